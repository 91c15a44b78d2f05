package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"repost-radar/internal/model"
)

const (
	KindCheck  = "check"
	KindHash   = "hash"
	KindReport = "report"
)

// RunInfo is a snapshot of an in-flight run.
type RunInfo struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ChannelID   string    `json:"channel_id"`
	RequestedBy string    `json:"requested_by"`
	StartedAt   time.Time `json:"started_at"`
}

type run struct {
	info   RunInfo
	cancel context.CancelFunc
}

// Registry tracks in-flight runs. At most one run per channel.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*run
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*run), now: time.Now}
}

// Start registers a run and returns its context, cancelled by Cancel,
// CancelChannel, CancelAll or the parent.
func (r *Registry) Start(parent context.Context, kind, channelID, requestedBy string) (context.Context, RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rr := range r.runs {
		if rr.info.ChannelID == channelID {
			return nil, RunInfo{}, model.InvalidInput("a %s is already running for channel %s (run %s)", rr.info.Kind, channelID, rr.info.ID)
		}
	}

	ctx, cancel := context.WithCancel(parent)
	info := RunInfo{
		ID:          uuid.NewString(),
		Kind:        kind,
		ChannelID:   channelID,
		RequestedBy: requestedBy,
		StartedAt:   r.now(),
	}
	r.runs[info.ID] = &run{info: info, cancel: cancel}
	return ctx, info, nil
}

// Finish releases the run's context and forgets it.
func (r *Registry) Finish(id string) {
	r.mu.Lock()
	rr, ok := r.runs[id]
	delete(r.runs, id)
	r.mu.Unlock()
	if ok {
		rr.cancel()
	}
}

func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rr, ok := r.runs[id]
	if ok {
		rr.cancel()
	}
	return ok
}

func (r *Registry) CancelChannel(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rr := range r.runs {
		if rr.info.ChannelID == channelID {
			rr.cancel()
			n++
		}
	}
	return n
}

func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rr := range r.runs {
		rr.cancel()
	}
	return len(r.runs)
}

// List returns the in-flight runs, oldest first.
func (r *Registry) List() []RunInfo {
	r.mu.Lock()
	out := make([]RunInfo, 0, len(r.runs))
	for _, rr := range r.runs {
		out = append(out, rr.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
