package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal"
	"repost-radar/internal/analysis"
	"repost-radar/internal/events"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
	"repost-radar/internal/notify"
	"repost-radar/internal/report"
	"repost-radar/internal/scheduler"
	"repost-radar/internal/walker"
)

type sentFile struct {
	name string
	body string
}

type fakeChat struct {
	mu      sync.Mutex
	sent    []string
	edits   []string
	files   []sentFile
	content []string
}

func (f *fakeChat) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", len(f.sent)), ChannelID: channelID}, nil
}

func (f *fakeChat) ChannelMessageEdit(channelID, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, content)
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeChat) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append(f.content, data.Content)
	for _, file := range data.Files {
		body, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, err
		}
		f.files = append(f.files, sentFile{name: file.Name, body: string(body)})
	}
	return &discordgo.Message{ID: "files"}, nil
}

type fakeService struct {
	result   *analysis.Result
	err      error
	calls    []string
	partial  bool
	stopped  []string
	tracked  []model.Message
	notifier *recordingNotifier
}

func (f *fakeService) Check(_ context.Context, channelID string, partial bool, by string, prog analysis.Progress) (*analysis.Result, error) {
	f.calls = append(f.calls, "check "+channelID+" "+by)
	f.partial = partial
	prog.Update(context.Background(), "Checking forum posts...")
	return f.result, f.err
}

func (f *fakeService) Hash(_ context.Context, channelID, by string, _ analysis.Progress) (*analysis.Result, error) {
	f.calls = append(f.calls, "hash "+channelID+" "+by)
	return f.result, f.err
}

func (f *fakeService) Report(_ context.Context, channelID, by string) (*analysis.Result, error) {
	f.calls = append(f.calls, "report "+channelID+" "+by)
	return f.result, f.err
}

func (f *fakeService) Stop(target string) int {
	f.stopped = append(f.stopped, target)
	return len(f.stopped)
}

func (f *fakeService) Runs() []scheduler.RunInfo { return nil }

func (f *fakeService) TrackMessage(_ context.Context, msg model.Message) ([]events.DuplicateDetected, error) {
	f.tracked = append(f.tracked, msg)
	return nil, nil
}

func (f *fakeService) Notifier() notify.Notifier { return f.notifier }

type recordingNotifier struct {
	texts []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingNotifier) NotifyFiles(context.Context, string, []string) error { return nil }

type fakePerms struct {
	missing []string
	err     error
}

func (f fakePerms) MissingPermissions(context.Context, string) ([]string, error) {
	return f.missing, f.err
}

func testConfig() internal.Config {
	return internal.Config{CommandPrefix: "!", ProgressInterval: time.Millisecond, ProgressTimeout: time.Second}
}

func newTestBot(t *testing.T, svc *fakeService, perms PermissionChecker) (*DiscordBot, *fakeChat) {
	t.Helper()
	if svc.notifier == nil {
		svc.notifier = &recordingNotifier{}
	}
	chat := &fakeChat{}
	b := newBot(chat, perms, svc, testConfig(), logging.NewNop(), filepath.Join(t.TempDir(), "errors.log"))
	return b, chat
}

func message(author, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "900",
		ChannelID: "500",
		GuildID:   "1",
		Content:   content,
		Author:    &discordgo.User{ID: author, Username: "user-" + author},
	}
}

func writeReports(t *testing.T) report.Files {
	t.Helper()
	dir := t.TempDir()
	files := report.Files{
		Duplicates: filepath.Join(dir, "duplicate_report_123_1.csv"),
		Authors:    filepath.Join(dir, "author_report_123_1.csv"),
		Timeline:   filepath.Join(dir, "timeline_report_123_1.csv"),
	}
	for _, p := range files.Paths() {
		require.NoError(t, os.WriteFile(p, []byte("# "+filepath.Base(p)+"\n"), 0o644))
	}
	return files
}

func TestCheckAttachesReports(t *testing.T) {
	svc := &fakeService{result: &analysis.Result{
		Channel:      model.Channel{ID: "123"},
		Stats:        walker.Stats{Messages: 4, Images: 3, Duplicates: 1},
		UniqueImages: 2,
		Reports:      writeReports(t),
	}}
	b, chat := newTestBot(t, svc, nil)

	b.handleMessage(context.Background(), message("u1", "!check 123 partial"))

	assert.Equal(t, []string{"check 123 user-u1"}, svc.calls)
	assert.True(t, svc.partial)
	require.Len(t, chat.sent, 1)
	assert.Contains(t, chat.sent[0], "Starting forum check")

	require.NotEmpty(t, chat.edits)
	final := chat.edits[len(chat.edits)-1]
	assert.Contains(t, final, "Forum check complete!")
	assert.Contains(t, final, "Duplicates found: 1")

	require.Len(t, chat.files, 3)
	assert.Equal(t, "duplicate_report_123_1.csv", chat.files[0].name)
	assert.Equal(t, "# duplicate_report_123_1.csv\n", chat.files[0].body)
}

func TestInvalidChannelNeverReachesService(t *testing.T) {
	svc := &fakeService{}
	b, chat := newTestBot(t, svc, nil)

	b.handleMessage(context.Background(), message("u1", "!hash ../../etc"))

	assert.Empty(t, svc.calls)
	require.Len(t, chat.sent, 1)
	assert.Contains(t, chat.sent[0], "must be numeric")
}

func TestReportWithoutStoredTable(t *testing.T) {
	svc := &fakeService{err: model.NewError(model.KindNotFound, "load 123", nil)}
	b, chat := newTestBot(t, svc, nil)

	b.handleMessage(context.Background(), message("u1", "!report 123"))

	require.NotEmpty(t, chat.edits)
	assert.Contains(t, chat.edits[len(chat.edits)-1], "run !hash 123 first")
	assert.Empty(t, chat.files)
}

func TestCooldown(t *testing.T) {
	svc := &fakeService{}
	b, chat := newTestBot(t, svc, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.handleMessage(context.Background(), message("u1", "!stop"))
	b.handleMessage(context.Background(), message("u1", "!stop"))
	b.handleMessage(context.Background(), message("u2", "!stop 123"))
	now = now.Add(commandCooldown)
	b.handleMessage(context.Background(), message("u1", "!stop"))

	assert.Equal(t, []string{"", "123", ""}, svc.stopped)
	assert.Contains(t, chat.sent[1], "Please wait")
}

func TestBotsAndPlainTextAreNotCommands(t *testing.T) {
	svc := &fakeService{}
	b, chat := newTestBot(t, svc, nil)

	botMsg := message("b1", "!check 123")
	botMsg.Author.Bot = true
	b.handleMessage(context.Background(), botMsg)

	plain := message("u1", "look at this")
	b.handleMessage(context.Background(), plain)

	withImage := message("u1", "look at this")
	withImage.Attachments = []*discordgo.MessageAttachment{{ID: "a1", URL: "https://cdn/x.png", ContentType: "image/png", Size: 10}}
	b.handleMessage(context.Background(), withImage)

	assert.Empty(t, svc.calls)
	assert.Empty(t, chat.sent)
	require.Len(t, svc.tracked, 1)
	assert.Equal(t, "https://discord.com/channels/1/500/900", svc.tracked[0].URL)
}

func TestCheckPerms(t *testing.T) {
	b, chat := newTestBot(t, &fakeService{}, fakePerms{missing: []string{"Read Message History", "Attach Files"}})
	b.handleMessage(context.Background(), message("u1", "!checkperms 123"))
	require.Len(t, chat.sent, 1)
	assert.Contains(t, chat.sent[0], "Missing permissions")
	assert.Contains(t, chat.sent[0], "• Attach Files")

	b, chat = newTestBot(t, &fakeService{}, fakePerms{})
	b.handleMessage(context.Background(), message("u1", "!checkperms 123"))
	assert.Contains(t, chat.sent[0], "All required permissions")
}

func TestErrorsCommand(t *testing.T) {
	b, chat := newTestBot(t, &fakeService{}, nil)
	require.NoError(t, os.WriteFile(b.errorsPath, nil, 0o644))

	b.handleMessage(context.Background(), message("u1", "!errors"))
	require.Len(t, chat.sent, 1)
	assert.Contains(t, chat.sent[0], "empty")

	require.NoError(t, os.WriteFile(b.errorsPath, []byte("first\nsecond failure\n"), 0o644))
	b.now = func() time.Time { return time.Now().Add(time.Minute) }
	b.handleMessage(context.Background(), message("u1", "!errors"))
	require.Len(t, chat.files, 1)
	assert.Equal(t, "errors.log", chat.files[0].name)
	assert.Contains(t, chat.content[0], "second failure")
}

func TestUnknownCommand(t *testing.T) {
	b, chat := newTestBot(t, &fakeService{}, nil)
	b.handleMessage(context.Background(), message("u1", "!frobnicate"))
	require.Len(t, chat.sent, 1)
	assert.Contains(t, chat.sent[0], "!help")
}
