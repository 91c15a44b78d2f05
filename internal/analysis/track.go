package analysis

import (
	"context"

	"github.com/samber/lo"

	"repost-radar/internal/events"
	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
)

// IsTracked reports whether live messages in channelID are hashed.
func (a *Analyzer) IsTracked(channelID string) bool {
	return lo.Contains(a.opts.TrackedChannels, channelID)
}

// channelName resolves and remembers the name of a tracked channel, so live
// occurrences carry the same location tag a walk would give them. Lookup
// failures fall back to the bare channel id.
func (a *Analyzer) channelName(ctx context.Context, channelID string) string {
	if v, ok := a.names.Load(channelID); ok {
		return v.(string)
	}
	ch, err := a.src.Channel(ctx, channelID)
	if err != nil {
		a.log.Warnf("analysis: resolve name of tracked channel %s: %v", channelID, err)
		return ""
	}
	a.names.Store(channelID, ch.Name)
	return ch.Name
}

// TrackMessage hashes the images of a live message in a tracked channel and
// records them in that channel's stored table. Downloads happen outside the
// channel lock; only record-and-save is serialized.
func (a *Analyzer) TrackMessage(ctx context.Context, msg model.Message) ([]events.DuplicateDetected, error) {
	if msg.Bot || !a.IsTracked(msg.ChannelID) {
		return nil, nil
	}

	var hashes []model.HashValue
	for _, att := range msg.Attachments {
		if !att.IsImage() {
			continue
		}
		h, err := a.hasher.Hash(ctx, att)
		switch {
		case err == nil:
			hashes = append(hashes, h)
		case model.IsSkip(err):
			a.log.Debugf("analysis: skip %s in live message %s: %v", att.Filename, msg.ID, err)
		case model.KindOf(err) == model.KindCancelled:
			return nil, err
		default:
			a.log.Warnf("analysis: live image %s in message %s: %v", att.URL, msg.ID, err)
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var dups []events.DuplicateDetected
	occ := msg.Occurrence(a.channelName(ctx, msg.ChannelID))
	err := a.cache.Update(ctx, msg.ChannelID, func(ix *hashdb.Index) (bool, error) {
		for _, h := range hashes {
			if ix.Record(h, occ) {
				continue
			}
			rec, _ := ix.Get(h)
			c := hashdb.Classify(rec)
			dups = append(dups, events.DuplicateDetected{
				ChannelID:      msg.ChannelID,
				Hash:           string(h),
				MessageID:      msg.ID,
				MessageURL:     msg.URL,
				AuthorID:       msg.Author.ID,
				OriginalURL:    c.Original.URL,
				OriginalAuthor: c.Original.Author.ID,
				SelfRepost:     c.Original.Author.ID == msg.Author.ID,
				DetectedAt:     a.now().UTC(),
			})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range dups {
		a.log.Infof("analysis: duplicate %s in %s by %s, original %s", d.Hash, d.ChannelID, d.AuthorID, d.OriginalURL)
		if err := a.events.Publish(ctx, events.SubjectDuplicate, d); err != nil {
			a.log.Warnf("analysis: publish duplicate event: %v", err)
		}
	}
	return dups, nil
}
