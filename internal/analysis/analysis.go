package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"repost-radar/internal/events"
	"repost-radar/internal/hashdb"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
	"repost-radar/internal/progress"
	"repost-radar/internal/report"
	"repost-radar/internal/s3"
	"repost-radar/internal/store"
	"repost-radar/internal/walker"
)

// Source is the chat platform as seen by the analyzer.
type Source interface {
	walker.Source
	Channel(ctx context.Context, channelID string) (model.Channel, error)
	ActiveThreads(ctx context.Context, forumID string) ([]model.Thread, error)
	ArchivedThreads(ctx context.Context, forumID string) ([]model.Thread, error)
}

// Progress receives human-readable status text. *progress.Throttled
// satisfies it.
type Progress interface {
	Update(ctx context.Context, text string)
	Final(ctx context.Context, text string)
}

type nopProgress struct{}

func (nopProgress) Update(context.Context, string) {}
func (nopProgress) Final(context.Context, string)  {}

type Deps struct {
	Source  Source
	Hasher  walker.AttachmentHasher
	Cache   *store.Cache
	Reports *report.Generator
	Uploads s3.Client // nil disables report upload
	Events  events.Publisher
	Log     *logging.Logger
}

type Options struct {
	ChannelConcurrency int
	Walker             walker.Options
	TrackedChannels    []string
	ReportPrefix       string
}

type Analyzer struct {
	src     Source
	hasher  walker.AttachmentHasher
	walker  *walker.Walker
	cache   *store.Cache
	reports *report.Generator
	uploads s3.Client
	events  events.Publisher
	opts    Options
	log     *logging.Logger
	now     func() time.Time

	names sync.Map // tracked channel id -> name
}

func New(d Deps, opts Options) *Analyzer {
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if opts.ChannelConcurrency <= 0 {
		opts.ChannelConcurrency = 4
	}
	return &Analyzer{
		src:     d.Source,
		hasher:  d.Hasher,
		walker:  walker.New(d.Source, d.Hasher, opts.Walker, d.Log),
		cache:   d.Cache,
		reports: d.Reports,
		uploads: d.Uploads,
		events:  d.Events,
		opts:    opts,
		log:     d.Log,
		now:     time.Now,
	}
}

// Result describes one finished (or partially finished) run.
type Result struct {
	Channel       model.Channel
	Targets       int
	TotalMessages int
	Stats         walker.Stats
	UniqueImages  int
	Partial       bool
	Reports       report.Files
	Uploaded      []string
	Elapsed       time.Duration
}

type target struct {
	id       string
	location string
}

// targets resolves what to walk: every post of a forum, or the channel itself.
func (a *Analyzer) targets(ctx context.Context, ch model.Channel) ([]target, error) {
	switch ch.Kind {
	case model.ChannelKindText, model.ChannelKindThread:
		return []target{{id: ch.ID, location: ch.Name}}, nil
	case model.ChannelKindForum:
		active, err := a.src.ActiveThreads(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch active posts: %w", err)
		}
		archived, err := a.src.ArchivedThreads(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch archived posts: %w", err)
		}
		a.log.Infof("analysis: forum %s has %d active and %d archived posts", ch.ID, len(active), len(archived))

		threads := lo.UniqBy(append(active, archived...), func(t model.Thread) string { return t.ID })
		return lo.Map(threads, func(t model.Thread, _ int) target {
			return target{id: t.ID, location: t.Name}
		}), nil
	default:
		return nil, model.InvalidInput("channel %s is a %s channel and has no message history to walk", ch.ID, ch.Kind)
	}
}

// CheckForum walks every post of a forum into a fresh index and writes the
// reports. When partial is set, a cancelled run still reports what it saw.
func (a *Analyzer) CheckForum(ctx context.Context, channelID string, partial bool, prog Progress) (*Result, error) {
	if prog == nil {
		prog = nopProgress{}
	}
	start := a.now()

	ch, err := a.src.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	res := &Result{Channel: ch}
	if ch.Kind != model.ChannelKindForum {
		return res, model.InvalidInput("channel %s is not a forum channel", channelID)
	}

	targets, err := a.targets(ctx, ch)
	if err != nil {
		return res, err
	}
	res.Targets = len(targets)
	if len(targets) == 0 {
		return res, model.InvalidInput("forum %s has no posts", channelID)
	}

	prog.Update(ctx, fmt.Sprintf("Found %d posts. Counting messages...", len(targets)))
	if res.TotalMessages, err = a.countAll(ctx, targets); err != nil {
		return res, err
	}

	ix := hashdb.New()
	res.Stats, err = a.walkAll(ctx, targets, ix, res.TotalMessages, prog, "Checking forum posts", start, false)
	res.UniqueImages = ix.Len()
	if err != nil {
		if !partial || model.KindOf(err) != model.KindCancelled {
			return res, err
		}
		res.Partial = true
		// Stopped by the operator; report what was collected.
		ctx = context.WithoutCancel(ctx)
	}

	if err := a.writeReports(ctx, res, ix); err != nil {
		return res, err
	}
	res.Elapsed = a.now().Sub(start)
	return res, nil
}

// BuildHashTable walks a channel (every post, for forums) and replaces its
// persisted hash table. Nothing is saved unless the walk completes.
func (a *Analyzer) BuildHashTable(ctx context.Context, channelID string, prog Progress) (*Result, error) {
	if prog == nil {
		prog = nopProgress{}
	}
	start := a.now()

	ch, err := a.src.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	res := &Result{Channel: ch}

	targets, err := a.targets(ctx, ch)
	if err != nil {
		return res, err
	}
	res.Targets = len(targets)

	// Images tracked live after this snapshot are carried into the new table.
	a.cache.Invalidate(channelID)
	prior, err := a.storedMessages(ctx, channelID)
	if err != nil {
		return res, err
	}

	prog.Update(ctx, "Counting messages...")
	if res.TotalMessages, err = a.countAll(ctx, targets); err != nil {
		return res, err
	}

	ix := hashdb.New()
	res.Stats, err = a.walkAll(ctx, targets, ix, res.TotalMessages, prog, "Building hash database", start, true)
	res.UniqueImages = ix.Len()
	if err != nil {
		return res, err
	}

	merged, err := a.cache.Rebuild(ctx, channelID, ix, func(occ model.Occurrence) bool {
		return !prior[occ.MessageID]
	})
	if err != nil {
		return res, err
	}
	if merged > 0 {
		a.log.Infof("analysis: kept %d live-tracked images recorded in %s during the rebuild", merged, channelID)
	}
	res.UniqueImages = ix.Len()
	res.Elapsed = a.now().Sub(start)
	a.log.Infof("analysis: hash table for %s saved, %d unique images from %d messages", channelID, res.UniqueImages, res.Stats.Messages)
	return res, nil
}

// storedMessages lists the message ids of the channel's persisted table.
// A missing or corrupted table counts as empty.
func (a *Analyzer) storedMessages(ctx context.Context, channelID string) (map[string]bool, error) {
	ix, err := a.cache.Get(ctx, channelID)
	if err == nil {
		return ix.MessageIDs(), nil
	}
	if k := model.KindOf(err); k == model.KindNotFound || k == model.KindCorrupted {
		return map[string]bool{}, nil
	}
	return nil, err
}

// ReportStored writes reports from the persisted hash table.
func (a *Analyzer) ReportStored(ctx context.Context, channelID string) (*Result, error) {
	start := a.now()
	ix, err := a.cache.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	res := &Result{Channel: model.Channel{ID: channelID}, UniqueImages: ix.Len()}
	if err := a.writeReports(ctx, res, ix); err != nil {
		return res, err
	}
	res.Elapsed = a.now().Sub(start)
	return res, nil
}

func (a *Analyzer) writeReports(ctx context.Context, res *Result, ix *hashdb.Index) error {
	files, err := a.reports.Generate(res.Channel.ID, ix, res.Partial)
	if err != nil {
		return err
	}
	res.Reports = files

	if a.uploads != nil {
		keys, err := report.Upload(ctx, a.uploads, a.opts.ReportPrefix, res.Channel.ID, files)
		if err != nil {
			a.log.Errorf("analysis: upload reports for %s: %v", res.Channel.ID, err)
		}
		res.Uploaded = keys
	}
	return nil
}

func (a *Analyzer) countAll(ctx context.Context, targets []target) (int, error) {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.ChannelConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			st, err := a.walker.Count(gctx, t.id)
			if err != nil {
				return fmt.Errorf("count %s: %w", t.location, err)
			}
			total.Add(int64(st.Messages))
			return nil
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}

// walkAll runs up to ChannelConcurrency walks at once into the shared index.
func (a *Analyzer) walkAll(ctx context.Context, targets []target, ix *hashdb.Index, total int, prog Progress, label string, start time.Time, build bool) (walker.Stats, error) {
	var (
		mu   sync.Mutex
		sum  walker.Stats
		done atomic.Int64
	)
	emit := func(ctx context.Context) {
		mu.Lock()
		st := sum
		mu.Unlock()
		prog.Update(ctx, progressText(label, int(done.Load()), total, st, ix.Len(), a.now().Sub(start)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.ChannelConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			var (
				st  walker.Stats
				err error
			)
			if build {
				seen := 0
				st, err = a.walker.Build(gctx, t.id, t.location, ix, func(s walker.Stats) {
					done.Add(int64(s.Messages - seen))
					seen = s.Messages
					emit(gctx)
				})
				if err != nil {
					done.Add(int64(st.Messages - seen))
				}
			} else {
				st, err = a.walker.Process(gctx, t.id, t.location, ix)
				done.Add(int64(st.Messages))
			}

			mu.Lock()
			sum.Add(st)
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("walk %s: %w", t.location, err)
			}
			if !build {
				emit(gctx)
			}
			return nil
		})
	}
	err := g.Wait()
	return sum, err
}

func progressText(label string, done, total int, st walker.Stats, unique int, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s...\n", label)
	fmt.Fprintf(&b, "%s (%d/%d messages)\n", progress.Percent(done, total), done, total)
	fmt.Fprintf(&b, "Images processed: %d\n", st.Images)
	fmt.Fprintf(&b, "Images skipped: %d\n", st.Skipped)
	fmt.Fprintf(&b, "Unique images: %d\n", unique)
	fmt.Fprintf(&b, "Time elapsed: %s", progress.Elapsed(elapsed))
	return b.String()
}

// Summary renders the final status text for a run.
func (r *Result) Summary(title string) string {
	var b strings.Builder
	b.WriteString(title)
	if r.Partial {
		b.WriteString(" (partial, run was stopped)")
	}
	b.WriteString("\n")
	if r.Targets > 1 {
		fmt.Fprintf(&b, "Posts walked: %d\n", r.Targets)
	}
	if r.Stats.Messages > 0 {
		fmt.Fprintf(&b, "Total messages processed: %d\n", r.Stats.Messages)
		fmt.Fprintf(&b, "Total images processed: %d\n", r.Stats.Images)
		fmt.Fprintf(&b, "Duplicates found: %d\n", r.Stats.Duplicates)
		fmt.Fprintf(&b, "Images skipped: %d\n", r.Stats.Skipped)
		if r.Stats.Failed > 0 {
			fmt.Fprintf(&b, "Images failed: %d\n", r.Stats.Failed)
		}
	}
	fmt.Fprintf(&b, "Unique images: %d\n", r.UniqueImages)
	fmt.Fprintf(&b, "Time taken: %s", progress.Elapsed(r.Elapsed))
	return b.String()
}
