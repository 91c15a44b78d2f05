package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal/logging"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestNotifyTruncates(t *testing.T) {
	s := &fakeSender{}
	tg := &Telegram{api: s, chatID: 42, log: logging.NewNop()}

	require.NoError(t, tg.Notify(context.Background(), strings.Repeat("я", 5000)))
	require.Len(t, s.sent, 1)
	msg := s.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, maxMessageRunes, len([]rune(msg.Text)))
}

func TestNotifyFilesSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "duplicate_report_1_1.csv")
	require.NoError(t, os.WriteFile(present, []byte("a,b\n"), 0o644))

	s := &fakeSender{}
	tg := &Telegram{api: s, chatID: 1, log: logging.NewNop()}
	err := tg.NotifyFiles(context.Background(), "done", []string{present, filepath.Join(dir, "gone.csv")})
	require.NoError(t, err)

	require.Len(t, s.sent, 2)
	doc, ok := s.sent[1].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	assert.Equal(t, "duplicate_report_1_1.csv", doc.Caption)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), "x"))
	assert.NoError(t, Nop{}.NotifyFiles(context.Background(), "x", []string{"y"}))
}
