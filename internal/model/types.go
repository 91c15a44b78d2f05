package model

import (
	"strings"
	"time"
)

// HashValue is the perceptual hash of an image. Two images are duplicates
// only when their HashValues are equal.
type HashValue string

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Occurrence is one appearance of an image in a message.
type Occurrence struct {
	MessageID string `json:"id"`
	URL       string `json:"url"`
	Author    Author `json:"author"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	ChannelID string `json:"channelId,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Place returns the location tag, falling back to the channel id.
func (o Occurrence) Place() string {
	if o.Location != "" {
		return o.Location
	}
	return o.ChannelID
}

// Time returns the occurrence timestamp in UTC.
func (o Occurrence) Time() time.Time {
	return time.UnixMilli(o.Timestamp).UTC()
}

// ImageRecord holds every occurrence of one hash. Original is whichever
// occurrence was inserted first; Duplicates keep discovery order.
type ImageRecord struct {
	Original   Occurrence   `json:"originalMessage"`
	Duplicates []Occurrence `json:"duplicates"`
}

// All returns the original followed by the duplicates.
func (r ImageRecord) All() []Occurrence {
	out := make([]Occurrence, 0, len(r.Duplicates)+1)
	out = append(out, r.Original)
	return append(out, r.Duplicates...)
}

type Attachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
	Size        int64
}

// IsImage reports whether the declared content type is any image/* type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

type Message struct {
	ID          string
	ChannelID   string
	URL         string
	Author      Author
	Bot         bool
	CreatedAt   int64 // epoch millis
	Content     string
	Attachments []Attachment
}

// Occurrence builds the occurrence of this message at the given location.
func (m Message) Occurrence(location string) Occurrence {
	return Occurrence{
		MessageID: m.ID,
		URL:       m.URL,
		Author:    m.Author,
		Timestamp: m.CreatedAt,
		ChannelID: m.ChannelID,
		Location:  location,
	}
}

type ChannelKind int

const (
	ChannelKindOther ChannelKind = iota
	ChannelKindText
	ChannelKindForum
	ChannelKindThread
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelKindText:
		return "text"
	case ChannelKindForum:
		return "forum"
	case ChannelKindThread:
		return "thread"
	default:
		return "other"
	}
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
	Kind    ChannelKind
}

// Thread is a forum post or any other walkable sub-thread.
type Thread struct {
	ID       string
	Name     string
	ParentID string
	Archived bool
}

// AuthorStats is derived from a full pass over an index.
type AuthorStats struct {
	AuthorID      string
	Username      string
	TotalReposts  int
	SelfReposts   int
	StolenReposts int
	VictimOf      int
	FirstActivity int64
	LastActivity  int64
}

// Touch widens the activity window to include ts.
func (s *AuthorStats) Touch(ts int64) {
	if s.FirstActivity == 0 || ts < s.FirstActivity {
		s.FirstActivity = ts
	}
	if ts > s.LastActivity {
		s.LastActivity = ts
	}
}
