package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repost-radar/internal/logging"
)

// Notifier delivers operator notifications outside Discord.
type Notifier interface {
	Notify(ctx context.Context, text string) error
	NotifyFiles(ctx context.Context, caption string, paths []string) error
}

// Nop is used when no admin chat is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error                 { return nil }
func (Nop) NotifyFiles(context.Context, string, []string) error { return nil }

// telegram message text limit
const maxMessageRunes = 4096

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts run summaries and report files to one admin chat.
type Telegram struct {
	api    Sender
	chatID int64
	log    *logging.Logger
}

func NewTelegram(token string, chatID int64, log *logging.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = false
	log.Infof("notify: telegram notifications as @%s to chat %d", api.Self.UserName, chatID)
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Send(tgbotapi.NewMessage(t.chatID, truncate(text, maxMessageRunes)))
	return err
}

// NotifyFiles sends the caption followed by each file as a document.
// Missing files are skipped.
func (t *Telegram) NotifyFiles(ctx context.Context, caption string, paths []string) error {
	if err := t.Notify(ctx, caption); err != nil {
		return err
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			t.log.Warnf("notify: skip %s: %v", p, err)
			continue
		}
		doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(p))
		doc.Caption = filepath.Base(p)
		if _, err := t.api.Send(doc); err != nil {
			return fmt.Errorf("send %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
