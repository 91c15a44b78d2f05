package walker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
)

// Source fetches one page of a channel's history, newest first. An empty
// before means the most recent page.
type Source interface {
	FetchMessages(ctx context.Context, channelID, before string, limit int) ([]model.Message, error)
}

type AttachmentHasher interface {
	Hash(ctx context.Context, att model.Attachment) (model.HashValue, error)
}

type Options struct {
	BatchSize       int
	HashConcurrency int
	FetchRate       float64 // pages per second, 0 = unlimited
	ProgressEvery   int     // messages between Build progress callbacks
}

type Stats struct {
	Pages      int `json:"pages"`
	Messages   int `json:"messages"`
	Images     int `json:"images"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Stats) Add(o Stats) {
	s.Pages += o.Pages
	s.Messages += o.Messages
	s.Images += o.Images
	s.Duplicates += o.Duplicates
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// ProgressFunc receives a snapshot of the running totals.
type ProgressFunc func(Stats)

// Walker pages through channel history. Pages of one channel are fetched
// strictly in sequence; attachments within a page are hashed in parallel.
type Walker struct {
	src     Source
	hasher  AttachmentHasher
	opts    Options
	limiter *rate.Limiter
	log     *logging.Logger
}

func New(src Source, hasher AttachmentHasher, opts Options, log *logging.Logger) *Walker {
	if opts.BatchSize <= 0 || opts.BatchSize > 100 {
		opts.BatchSize = 100
	}
	if opts.HashConcurrency <= 0 {
		opts.HashConcurrency = 6
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	if log == nil {
		log = logging.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.FetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.FetchRate), 1)
	}
	return &Walker{src: src, hasher: hasher, opts: opts, limiter: limiter, log: log}
}

// Count walks the channel and only counts messages.
func (w *Walker) Count(ctx context.Context, channelID string) (Stats, error) {
	var st Stats
	err := w.pages(ctx, channelID, &st, func([]model.Message) error {
		if st.Pages%10 == 0 {
			w.log.Debugf("walker: counted %d messages in %s so far", st.Messages, channelID)
		}
		return nil
	})
	return st, err
}

// Process hashes every image attachment and records it in ix, tagging the
// occurrences with location.
func (w *Walker) Process(ctx context.Context, channelID, location string, ix *hashdb.Index) (Stats, error) {
	var st Stats
	err := w.pages(ctx, channelID, &st, func(page []model.Message) error {
		return w.processPage(ctx, page, location, ix, &st)
	})
	return st, err
}

// Build is Process with progress callbacks every ProgressEvery messages and
// once more when the walk completes.
func (w *Walker) Build(ctx context.Context, channelID, location string, ix *hashdb.Index, progress ProgressFunc) (Stats, error) {
	var st Stats
	reported := 0
	err := w.pages(ctx, channelID, &st, func(page []model.Message) error {
		if err := w.processPage(ctx, page, location, ix, &st); err != nil {
			return err
		}
		if progress != nil && st.Messages-reported >= w.opts.ProgressEvery {
			reported = st.Messages
			progress(st)
		}
		return nil
	})
	if err == nil && progress != nil {
		progress(st)
	}
	return st, err
}

// pages is the shared pagination loop: fetch up to BatchSize messages older
// than the cursor until a page comes back empty.
func (w *Walker) pages(ctx context.Context, channelID string, st *Stats, fn func([]model.Message) error) error {
	before := ""
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		page, err := w.src.FetchMessages(ctx, channelID, before, w.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch messages of %s before %q: %w", channelID, before, err)
		}
		if len(page) == 0 {
			return nil
		}

		st.Pages++
		st.Messages += len(page)
		before = page[len(page)-1].ID

		if err := fn(page); err != nil {
			return err
		}
	}
}

type hashJob struct {
	msg int
	att model.Attachment
}

type hashResult struct {
	msg   int
	value model.HashValue
	err   error
}

func (w *Walker) processPage(ctx context.Context, page []model.Message, location string, ix *hashdb.Index, st *Stats) error {
	var jobs []hashJob
	for i, m := range page {
		for _, att := range m.Attachments {
			if att.IsImage() {
				jobs = append(jobs, hashJob{msg: i, att: att})
			}
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([]hashResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.HashConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			v, err := w.hasher.Hash(gctx, j.att)
			results[i] = hashResult{msg: j.msg, value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	// A partial page is never recorded.
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, r := range results {
		msg := page[r.msg]
		switch {
		case r.err == nil:
			st.Images++
			if !ix.Record(r.value, msg.Occurrence(location)) {
				st.Duplicates++
			}
		case model.IsSkip(r.err):
			st.Skipped++
			w.log.Debugf("walker: skip %s in message %s: %v", jobs[i].att.Filename, msg.ID, r.err)
		default:
			st.Failed++
			w.log.Warnf("walker: image %s in message %s: %v", jobs[i].att.URL, msg.ID, r.err)
		}
	}
	return nil
}
