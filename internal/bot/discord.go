package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"repost-radar/internal"
	"repost-radar/internal/analysis"
	"repost-radar/internal/discord"
	"repost-radar/internal/events"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
	"repost-radar/internal/notify"
	"repost-radar/internal/progress"
	"repost-radar/internal/scheduler"
)

const (
	commandCooldown = 3 * time.Second
	presenceText    = "for duplicate images"
	errorsTailLines = 10
)

// Service is what the bot drives. *scheduler.Service satisfies it.
type Service interface {
	Check(ctx context.Context, channelID string, partial bool, requestedBy string, prog analysis.Progress) (*analysis.Result, error)
	Hash(ctx context.Context, channelID, requestedBy string, prog analysis.Progress) (*analysis.Result, error)
	Report(ctx context.Context, channelID, requestedBy string) (*analysis.Result, error)
	Stop(target string) int
	Runs() []scheduler.RunInfo
	TrackMessage(ctx context.Context, msg model.Message) ([]events.DuplicateDetected, error)
	Notifier() notify.Notifier
}

// Chat is the slice of *discordgo.Session used to talk back.
type Chat interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type PermissionChecker interface {
	MissingPermissions(ctx context.Context, channelID string) ([]string, error)
}

type DiscordBot struct {
	session    *discordgo.Session
	chat       Chat
	perms      PermissionChecker
	svc        Service
	cfg        internal.Config
	log        *logging.Logger
	errorsPath string
	cancelFunc context.CancelFunc
	started    time.Time

	cooldownMu sync.Mutex
	lastCmd    map[string]time.Time
	now        func() time.Time
}

func NewDiscordBot(session *discordgo.Session, perms PermissionChecker, svc Service, cfg internal.Config, log *logging.Logger, errorsPath string) *DiscordBot {
	b := newBot(session, perms, svc, cfg, log, errorsPath)
	b.session = session
	return b
}

func newBot(chat Chat, perms PermissionChecker, svc Service, cfg internal.Config, log *logging.Logger, errorsPath string) *DiscordBot {
	return &DiscordBot{
		chat:       chat,
		perms:      perms,
		svc:        svc,
		cfg:        cfg,
		log:        log,
		errorsPath: errorsPath,
		started:    time.Now(),
		lastCmd:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetCancelFunc lets the memory watcher stop the process on a critical leak.
func (b *DiscordBot) SetCancelFunc(cancel context.CancelFunc) {
	b.cancelFunc = cancel
}

func (b *DiscordBot) Run(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Infof("discord bot started as %s", r.User.String())
		if err := s.UpdateWatchStatus(0, presenceText); err != nil {
			b.log.Warnf("discord: set presence: %v", err)
		}
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(ctx, m.Message)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	go b.runMemoryWatcher(ctx)

	<-ctx.Done()
	return b.session.Close()
}

func (b *DiscordBot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	cmd, ok := parseCommand(b.cfg.CommandPrefix, m.Content)
	if !ok {
		b.track(ctx, m)
		return
	}
	if !b.allow(m.Author.ID) {
		b.replyText(m.ChannelID, "⏳ Please wait a few seconds before sending another command.")
		return
	}
	b.handleCommand(ctx, m, cmd)
}

// allow enforces the per-user command cooldown.
func (b *DiscordBot) allow(userID string) bool {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()
	now := b.now()
	if last, ok := b.lastCmd[userID]; ok && now.Sub(last) < commandCooldown {
		return false
	}
	b.lastCmd[userID] = now
	return true
}

func (b *DiscordBot) track(ctx context.Context, m *discordgo.Message) {
	if len(m.Attachments) == 0 {
		return
	}
	dups, err := b.svc.TrackMessage(ctx, discord.ConvertMessage(m.GuildID, m))
	if err != nil {
		b.log.Errorf("track message %s in %s: %v", m.ID, m.ChannelID, err)
		return
	}
	for _, d := range dups {
		b.log.Infof("duplicate image in %s: %s reposts %s", d.ChannelID, d.MessageURL, d.OriginalURL)
	}
}

func (b *DiscordBot) handleCommand(ctx context.Context, m *discordgo.Message, cmd command) {
	chatID := m.ChannelID
	p := b.cfg.CommandPrefix

	switch cmd.name {
	case "help":
		b.replyText(chatID, helpText(p))
	case "check":
		b.cmdCheck(ctx, m, cmd)
	case "hash":
		b.cmdHash(ctx, m, cmd)
	case "report":
		b.cmdReport(ctx, m, cmd)
	case "stop":
		b.cmdStop(chatID, cmd)
	case "status":
		b.cmdStatus(chatID)
	case "checkperms":
		b.cmdCheckPerms(ctx, chatID, cmd)
	case "errors":
		b.cmdErrors(chatID)
	default:
		b.replyText(chatID, fmt.Sprintf("Unknown command. Use %shelp", p))
	}
}

func (b *DiscordBot) cmdCheck(ctx context.Context, m *discordgo.Message, cmd command) {
	id, err := cmd.channelArg(b.cfg.CommandPrefix)
	if err != nil {
		b.replyText(m.ChannelID, describeError(err))
		return
	}
	prog := b.startStatus(m.ChannelID, "🔍 Starting forum check...")
	res, err := b.svc.Check(ctx, id, cmd.partial(), m.Author.Username, prog)
	b.finish(ctx, m.ChannelID, prog, res, err, "✅ Forum check complete!")
}

func (b *DiscordBot) cmdHash(ctx context.Context, m *discordgo.Message, cmd command) {
	id, err := cmd.channelArg(b.cfg.CommandPrefix)
	if err != nil {
		b.replyText(m.ChannelID, describeError(err))
		return
	}
	prog := b.startStatus(m.ChannelID, "🔄 Building hash database...")
	res, err := b.svc.Hash(ctx, id, m.Author.Username, prog)
	b.finish(ctx, m.ChannelID, prog, res, err, "✅ Hash database built!")
}

func (b *DiscordBot) cmdReport(ctx context.Context, m *discordgo.Message, cmd command) {
	id, err := cmd.channelArg(b.cfg.CommandPrefix)
	if err != nil {
		b.replyText(m.ChannelID, describeError(err))
		return
	}
	prog := b.startStatus(m.ChannelID, "📊 Generating report...")
	res, err := b.svc.Report(ctx, id, m.Author.Username)
	if model.KindOf(err) == model.KindNotFound {
		err = model.InvalidInput("no hash database stored for channel %s, run %shash %s first", id, b.cfg.CommandPrefix, id)
	}
	b.finish(ctx, m.ChannelID, prog, res, err, "✅ Report generated!")
}

// startStatus posts the status message that progress updates will edit.
func (b *DiscordBot) startStatus(chatID, text string) *progress.Throttled {
	statusID := b.replyText(chatID, text)
	sink := progress.SinkFunc(func(ctx context.Context, text string) error {
		if statusID == "" {
			return nil
		}
		return b.editMessage(ctx, chatID, statusID, text)
	})
	return progress.NewThrottled(sink, b.cfg.ProgressInterval, b.cfg.ProgressTimeout, b.log)
}

func (b *DiscordBot) finish(ctx context.Context, chatID string, prog *progress.Throttled, res *analysis.Result, err error, title string) {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		prog.Final(ctx, describeError(err))
		return
	}
	prog.Final(ctx, res.Summary(title))

	paths := res.Reports.Paths()
	if len(paths) == 0 {
		return
	}
	content := "📎 Reports"
	if len(res.Uploaded) > 0 {
		content += fmt.Sprintf(" (also uploaded as %s)", strings.Join(res.Uploaded, ", "))
	}
	if err := b.sendFiles(chatID, content, paths); err != nil {
		b.log.Errorf("send reports to %s: %v", chatID, err)
		b.replyText(chatID, "❌ Reports were written but could not be attached: "+err.Error())
	}
}

func (b *DiscordBot) cmdStop(chatID string, cmd command) {
	target := ""
	if len(cmd.args) > 0 {
		target = cmd.args[0]
	}
	n := b.svc.Stop(target)
	if n == 0 {
		b.replyText(chatID, "Nothing to stop.")
		return
	}
	b.replyText(chatID, fmt.Sprintf("⏹ Stopping %d run(s)...", n))
}

func (b *DiscordBot) cmdStatus(chatID string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var sb strings.Builder
	sb.WriteString("📊 Status\n")
	fmt.Fprintf(&sb, "Uptime: %s\n", progress.Elapsed(time.Since(b.started)))
	fmt.Fprintf(&sb, "Heap: %d MB, Sys: %d MB, Goroutines: %d\n", ms.HeapAlloc/(1024*1024), ms.Sys/(1024*1024), runtime.NumGoroutine())

	runs := b.svc.Runs()
	if len(runs) == 0 {
		sb.WriteString("No scans running.")
	} else {
		fmt.Fprintf(&sb, "Running scans: %d\n", len(runs))
		for _, r := range runs {
			fmt.Fprintf(&sb, "• %s %s by %s, %s (run %s)\n", r.Kind, r.ChannelID, r.RequestedBy, progress.Elapsed(time.Since(r.StartedAt)), r.ID)
		}
	}
	if tracked := b.cfg.TrackedChannels; len(tracked) > 0 {
		fmt.Fprintf(&sb, "\nTracked channels: %s", strings.Join(tracked, ", "))
	}
	b.replyText(chatID, sb.String())
}

func (b *DiscordBot) cmdCheckPerms(ctx context.Context, chatID string, cmd command) {
	id, err := cmd.channelArg(b.cfg.CommandPrefix)
	if err != nil {
		b.replyText(chatID, describeError(err))
		return
	}
	missing, err := b.perms.MissingPermissions(ctx, id)
	if err != nil {
		b.replyText(chatID, describeError(err))
		return
	}
	if len(missing) == 0 {
		b.replyText(chatID, fmt.Sprintf("✅ All required permissions are granted in <#%s>.", id))
		return
	}
	b.replyText(chatID, fmt.Sprintf("❌ Missing permissions in <#%s>:\n• %s", id, strings.Join(missing, "\n• ")))
}

func (b *DiscordBot) cmdErrors(chatID string) {
	info, err := os.Stat(b.errorsPath)
	if err != nil {
		b.log.Errorf("stat errors.log: %v", err)
		b.replyText(chatID, "❌ Could not open errors.log")
		return
	}
	if info.Size() == 0 {
		b.replyText(chatID, "📋 errors.log is empty")
		return
	}

	content := fmt.Sprintf("📋 errors.log (%d bytes)", info.Size())
	if lines, err := TailLastNLines(b.errorsPath, errorsTailLines); err == nil && len(lines) > 0 {
		content += "\n```\n" + truncate(strings.Join(lines, "\n"), 1500) + "\n```"
	}
	if err := b.sendFiles(chatID, content, []string{b.errorsPath}); err != nil {
		b.log.Errorf("send errors.log: %v", err)
		b.replyText(chatID, "❌ Failed to send errors.log")
	}
}

func (b *DiscordBot) sendFiles(chatID, content string, paths []string) error {
	msg := &discordgo.MessageSend{Content: content}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		ct := "text/plain"
		if filepath.Ext(p) == ".csv" {
			ct = "text/csv"
		}
		msg.Files = append(msg.Files, &discordgo.File{Name: filepath.Base(p), ContentType: ct, Reader: f})
	}
	_, err := b.chat.ChannelMessageSendComplex(chatID, msg)
	return err
}

func (b *DiscordBot) replyText(chatID, text string) string {
	sent, err := b.chat.ChannelMessageSend(chatID, truncate(text, 2000))
	if err != nil {
		b.log.Errorf("send message to %s: %v", chatID, err)
		return ""
	}
	return sent.ID
}

func (b *DiscordBot) editMessage(ctx context.Context, chatID, messageID, text string) error {
	_, err := b.chat.ChannelMessageEdit(chatID, messageID, truncate(text, 2000), discordgo.WithContext(ctx))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
