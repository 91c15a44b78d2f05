package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"repost-radar/internal"
	"repost-radar/internal/analysis"
	"repost-radar/internal/events"
	"repost-radar/internal/hasher"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
	"repost-radar/internal/notify"
	"repost-radar/internal/report"
	"repost-radar/internal/s3"
	"repost-radar/internal/store"
	"repost-radar/internal/walker"
)

// Analyzer is the slice of *analysis.Analyzer the service drives.
type Analyzer interface {
	CheckForum(ctx context.Context, channelID string, partial bool, prog analysis.Progress) (*analysis.Result, error)
	BuildHashTable(ctx context.Context, channelID string, prog analysis.Progress) (*analysis.Result, error)
	ReportStored(ctx context.Context, channelID string) (*analysis.Result, error)
	TrackMessage(ctx context.Context, msg model.Message) ([]events.DuplicateDetected, error)
	IsTracked(channelID string) bool
}

var titles = map[string]string{
	KindCheck:  "Forum check complete!",
	KindHash:   "Hash database built!",
	KindReport: "Report generated!",
}

// ChannelSummary describes a persisted hash table.
type ChannelSummary struct {
	ChannelID    string `json:"channel_id"`
	UniqueImages int    `json:"unique_images"`
	Occurrences  int    `json:"occurrences"`
	Tracked      bool   `json:"tracked"`
	Cached       bool   `json:"cached"`
}

type Service struct {
	impl   Analyzer
	log    *logging.Logger
	cron   *cron.Cron
	runs   *Registry
	cfg    internal.Config
	cache  *store.Cache
	hasher *hasher.Hasher
	events events.Publisher
	notify notify.Notifier
	closer func()
}

func (s *Service) Run(ctx context.Context) error {
	s.cron.Start()

	<-ctx.Done()

	if n := s.runs.CancelAll(); n > 0 {
		s.log.Infof("scheduler: cancelled %d in-flight runs", n)
	}

	ctxStop := s.cron.Stop()
	select {
	case <-ctxStop.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("cron stop timeout")
	}
}

func (s *Service) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func (s *Service) Runs() []RunInfo           { return s.runs.List() }
func (s *Service) Notifier() notify.Notifier { return s.notify }

// Check runs a forum check as a registered run.
func (s *Service) Check(ctx context.Context, channelID string, partial bool, requestedBy string, prog analysis.Progress) (*analysis.Result, error) {
	return s.run(ctx, KindCheck, channelID, requestedBy, func(ctx context.Context) (*analysis.Result, error) {
		return s.impl.CheckForum(ctx, channelID, partial, prog)
	})
}

func (s *Service) Hash(ctx context.Context, channelID, requestedBy string, prog analysis.Progress) (*analysis.Result, error) {
	return s.run(ctx, KindHash, channelID, requestedBy, func(ctx context.Context) (*analysis.Result, error) {
		return s.impl.BuildHashTable(ctx, channelID, prog)
	})
}

func (s *Service) Report(ctx context.Context, channelID, requestedBy string) (*analysis.Result, error) {
	return s.run(ctx, KindReport, channelID, requestedBy, func(ctx context.Context) (*analysis.Result, error) {
		return s.impl.ReportStored(ctx, channelID)
	})
}

func (s *Service) run(ctx context.Context, kind, channelID, requestedBy string, fn func(context.Context) (*analysis.Result, error)) (*analysis.Result, error) {
	ctx, info, err := s.runs.Start(ctx, kind, channelID, requestedBy)
	if err != nil {
		return nil, err
	}
	defer s.runs.Finish(info.ID)

	s.log.Infof("scheduler: %s run %s started for %s by %s", kind, info.ID, channelID, requestedBy)
	res, err := fn(ctx)

	ev := events.RunFinished{
		RunID:      info.ID,
		Kind:       kind,
		ChannelID:  channelID,
		FinishedAt: time.Now().UTC(),
	}
	if res != nil {
		ev.Messages = res.Stats.Messages
		ev.Images = res.Stats.Images
		ev.Duplicates = res.Stats.Duplicates
		ev.UniqueImages = res.UniqueImages
		ev.Partial = res.Partial
		ev.Reports = res.Reports.Paths()
	}
	if err != nil {
		ev.Error = err.Error()
		s.log.Errorf("scheduler: %s run %s for %s failed: %v", kind, info.ID, channelID, err)
	} else {
		s.log.Infof("scheduler: %s run %s for %s finished", kind, info.ID, channelID)
	}

	// The run context may be cancelled already; events and notifications still go out.
	after := context.WithoutCancel(ctx)
	if perr := s.events.Publish(after, events.SubjectRunFinished, ev); perr != nil {
		s.log.Warnf("scheduler: publish run finished: %v", perr)
	}
	if err == nil && res != nil {
		caption := fmt.Sprintf("Channel %s\n%s", channelID, res.Summary(titles[kind]))
		if nerr := s.notify.NotifyFiles(after, caption, ev.Reports); nerr != nil {
			s.log.Warnf("scheduler: notify: %v", nerr)
		}
	}
	return res, err
}

// Stop cancels the run with the given id, or every run on the channel with
// that id. An empty target cancels everything.
func (s *Service) Stop(target string) int {
	if target == "" {
		return s.runs.CancelAll()
	}
	if s.runs.Cancel(target) {
		return 1
	}
	return s.runs.CancelChannel(target)
}

// CancelRun cancels one run by id.
func (s *Service) CancelRun(id string) bool {
	return s.runs.Cancel(id)
}

// TrackMessage hashes a live message of a tracked channel.
func (s *Service) TrackMessage(ctx context.Context, msg model.Message) ([]events.DuplicateDetected, error) {
	if !s.impl.IsTracked(msg.ChannelID) {
		return nil, nil
	}
	return s.impl.TrackMessage(ctx, msg)
}

// Channel summarizes the persisted hash table of a channel.
func (s *Service) Channel(ctx context.Context, channelID string) (ChannelSummary, error) {
	if err := store.CheckChannelID(channelID); err != nil {
		return ChannelSummary{}, err
	}
	cached := lo.Contains(s.cache.Loaded(), channelID)
	ix, err := s.cache.Get(ctx, channelID)
	if err != nil {
		return ChannelSummary{}, err
	}
	return ChannelSummary{
		ChannelID:    channelID,
		UniqueImages: ix.Len(),
		Occurrences:  ix.Occurrences(),
		Tracked:      s.impl.IsTracked(channelID),
		Cached:       cached,
	}, nil
}

func (s *Service) cleanupTemp() {
	n, err := s.hasher.CleanupTemp(s.cfg.TempMaxAge)
	if err != nil {
		s.log.Errorf("cron temp cleanup: %v", err)
		return
	}
	if n > 0 {
		s.log.Infof("cron: removed %d stale temp files", n)
	}
}

func (s *Service) rehashTracked() {
	for _, id := range s.cfg.TrackedChannels {
		log := s.log.With("channel", id)
		log.Infof("cron: rebuilding hash table for %s", id)
		if _, err := s.Hash(context.Background(), id, "cron", nil); err != nil {
			log.Errorf("cron rehash %s: %v", id, err)
		}
	}
}

// BuildService wires the store, hasher, analyzer, notifier, event publisher
// and cron jobs around the given chat platform source.
func BuildService(ctx context.Context, cfg internal.Config, src analysis.Source, log *logging.Logger) (*Service, error) {
	var (
		s3c s3.Client
		err error
	)
	if cfg.HasS3() {
		if s3c, err = s3.New(cfg); err != nil {
			return nil, err
		}
	}

	var st store.Store
	switch cfg.HashStore {
	case "s3":
		st = store.NewS3Store(s3c, cfg.S3HashPrefix)
		log.Infof("store: hash tables in s3://%s/%s", cfg.S3Bucket, cfg.S3HashPrefix)
	default:
		if err := os.MkdirAll(cfg.HashDir, 0o755); err != nil {
			return nil, fmt.Errorf("create hash dir: %w", err)
		}
		st = store.NewFileStore(cfg.HashDir)
		log.Infof("store: hash tables in %s", cfg.HashDir)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	cache := store.NewCache(st)

	h := hasher.New(hasher.Options{
		TempDir:        cfg.TempDir,
		MaxBytes:       cfg.MaxImageBytes,
		AllowedFormats: cfg.AllowedFormats,
	}, log)

	var (
		pub    events.Publisher = events.Nop{}
		closer func()
	)
	if cfg.NatsURL != "" {
		nc, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, log)
		if err != nil {
			return nil, err
		}
		pub, closer = nc, nc.Close
		log.Infof("events: publishing to %s", cfg.NatsURL)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Errorf("notify: telegram disabled: %v", err)
		} else {
			notifier = tg
		}
	}

	var uploads s3.Client
	if cfg.UploadReports {
		uploads = s3c
	}

	impl := analysis.New(analysis.Deps{
		Source:  src,
		Hasher:  h,
		Cache:   cache,
		Reports: report.NewGenerator(cfg.ReportDir, log),
		Uploads: uploads,
		Events:  pub,
		Log:     log,
	}, analysis.Options{
		ChannelConcurrency: cfg.ChannelConcurrency,
		Walker: walker.Options{
			BatchSize:       cfg.BatchSize,
			HashConcurrency: cfg.HashConcurrency,
			FetchRate:       cfg.FetchRate,
			ProgressEvery:   cfg.ProgressEvery,
		},
		TrackedChannels: cfg.TrackedChannels,
		ReportPrefix:    cfg.S3ReportPrefix,
	})

	c := cron.New(cron.WithSeconds())
	s := &Service{
		impl:   impl,
		log:    log,
		cron:   c,
		runs:   NewRegistry(),
		cfg:    cfg,
		cache:  cache,
		hasher: h,
		events: pub,
		notify: notifier,
		closer: closer,
	}

	if _, err := c.AddFunc(cfg.TempCleanupSchedule, func() {
		log.Infof("cron: cleaning temp dir")
		s.cleanupTemp()
	}); err != nil {
		return nil, fmt.Errorf("temp cleanup schedule: %w", err)
	}

	if cfg.RehashSchedule != "" && len(cfg.TrackedChannels) > 0 {
		if _, err := c.AddFunc(cfg.RehashSchedule, s.rehashTracked); err != nil {
			return nil, fmt.Errorf("rehash schedule: %w", err)
		}
	}

	// Leftovers from a previous process.
	go s.cleanupTemp()

	return s, nil
}
