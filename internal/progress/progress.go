package progress

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"repost-radar/internal/logging"
)

// Sink shows progress text to the operator, e.g. by editing a chat message.
type Sink interface {
	Update(ctx context.Context, text string) error
}

type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) Update(ctx context.Context, text string) error { return f(ctx, text) }

// Throttled forwards at most one update per interval to the sink. Each
// delivery is bounded by timeout; a slow or failing sink never stalls the
// caller for longer than that.
type Throttled struct {
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	log      *logging.Logger

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewThrottled(sink Sink, interval, timeout time.Duration, log *logging.Logger) *Throttled {
	if log == nil {
		log = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Throttled{sink: sink, interval: interval, timeout: timeout, log: log, now: time.Now}
}

// Update drops text if the previous delivery was less than interval ago.
func (t *Throttled) Update(ctx context.Context, text string) {
	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()

	t.deliver(ctx, text)
}

// Final always delivers, regardless of the interval.
func (t *Throttled) Final(ctx context.Context, text string) {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()

	t.deliver(ctx, text)
}

func (t *Throttled) deliver(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.sink.Update(ctx, text) }()

	select {
	case err := <-done:
		if err != nil {
			t.log.Warnf("progress: update failed: %v", err)
		}
	case <-ctx.Done():
		t.log.Warnf("progress: update timed out after %s", t.timeout)
	}
}

const barLength = 20

// Bar renders a fixed-width bar for a fraction in [0, 1].
func Bar(fraction float64) string {
	fraction = math.Max(0, math.Min(1, fraction))
	filled := int(math.Round(barLength * fraction))
	return strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
}

// Percent renders done/total as a bar plus percentage.
func Percent(done, total int) string {
	if total <= 0 {
		return Bar(0) + " 0%"
	}
	f := float64(done) / float64(total)
	return fmt.Sprintf("%s %d%%", Bar(f), int(math.Round(math.Min(f, 1)*100)))
}

// Elapsed formats d as "1h 2m 3s", omitting zero hours and minutes.
func Elapsed(d time.Duration) string {
	secs := int(d.Seconds())
	h, m, s := secs/3600, (secs%3600)/60, secs%60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	parts = append(parts, fmt.Sprintf("%ds", s))
	return strings.Join(parts, " ")
}
