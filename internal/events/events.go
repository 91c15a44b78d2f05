package events

import (
	"context"
	"time"
)

const (
	SubjectRunFinished = "repost.run.finished"
	SubjectDuplicate   = "repost.duplicate.detected"
	SubjectAll         = "repost.>"
)

// RunFinished is emitted once per check, hash or report run, including
// failed and cancelled ones.
type RunFinished struct {
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	ChannelID    string    `json:"channel_id"`
	Messages     int       `json:"messages"`
	Images       int       `json:"images"`
	Duplicates   int       `json:"duplicates"`
	UniqueImages int       `json:"unique_images"`
	Partial      bool      `json:"partial"`
	Error        string    `json:"error,omitempty"`
	Reports      []string  `json:"reports,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// DuplicateDetected is emitted when a live message in a tracked channel
// carries an image whose hash is already stored.
type DuplicateDetected struct {
	ChannelID      string    `json:"channel_id"`
	Hash           string    `json:"hash"`
	MessageID      string    `json:"message_id"`
	MessageURL     string    `json:"message_url"`
	AuthorID       string    `json:"author_id"`
	OriginalURL    string    `json:"original_url"`
	OriginalAuthor string    `json:"original_author_id"`
	SelfRepost     bool      `json:"self_repost"`
	DetectedAt     time.Time `json:"detected_at"`
}

type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Nop drops every event; used when NATS_URL is not set.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
