package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"repost-radar/internal/model"
)

const archivedPageSize = 100

// Source reads channel history through the Discord REST API.
type Source struct {
	s *discordgo.Session

	mu     sync.Mutex
	guilds map[string]string // channel id -> guild id, for message URLs
}

func NewSource(s *discordgo.Session) *Source {
	return &Source{s: s, guilds: make(map[string]string)}
}

func (src *Source) Channel(ctx context.Context, channelID string) (model.Channel, error) {
	ch, err := src.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return model.Channel{}, classify(ctx, "fetch channel "+channelID, err)
	}
	src.remember(ch.ID, ch.GuildID)
	return model.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name, Kind: kindOf(ch.Type)}, nil
}

func (src *Source) FetchMessages(ctx context.Context, channelID, before string, limit int) ([]model.Message, error) {
	guildID, err := src.guildOf(ctx, channelID)
	if err != nil {
		return nil, err
	}
	msgs, err := src.s.ChannelMessages(channelID, limit, before, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(ctx, "fetch messages of "+channelID, err)
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ConvertMessage(guildID, m))
	}
	return out, nil
}

// ActiveThreads lists the forum's active posts. Discord only lists active
// threads per guild, so the result is filtered by parent.
func (src *Source) ActiveThreads(ctx context.Context, forumID string) ([]model.Thread, error) {
	guildID, err := src.guildOf(ctx, forumID)
	if err != nil {
		return nil, err
	}
	list, err := src.s.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(ctx, "fetch active threads of "+forumID, err)
	}
	var out []model.Thread
	for _, th := range list.Threads {
		if th.ParentID != forumID {
			continue
		}
		src.remember(th.ID, guildID)
		out = append(out, convertThread(th))
	}
	return out, nil
}

// ArchivedThreads pages through every public archived post of the forum.
func (src *Source) ArchivedThreads(ctx context.Context, forumID string) ([]model.Thread, error) {
	guildID, err := src.guildOf(ctx, forumID)
	if err != nil {
		return nil, err
	}

	var (
		out    []model.Thread
		before *time.Time
	)
	for {
		list, err := src.s.ThreadsArchived(forumID, before, archivedPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify(ctx, "fetch archived threads of "+forumID, err)
		}
		for _, th := range list.Threads {
			src.remember(th.ID, guildID)
			out = append(out, convertThread(th))
		}
		if !list.HasMore || len(list.Threads) == 0 {
			return out, nil
		}
		last := list.Threads[len(list.Threads)-1]
		if last.ThreadMetadata == nil {
			return out, nil
		}
		ts := last.ThreadMetadata.ArchiveTimestamp
		before = &ts
	}
}

func (src *Source) remember(channelID, guildID string) {
	if guildID == "" {
		return
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	src.guilds[channelID] = guildID
}

func (src *Source) guildOf(ctx context.Context, channelID string) (string, error) {
	src.mu.Lock()
	g, ok := src.guilds[channelID]
	src.mu.Unlock()
	if ok {
		return g, nil
	}
	if ch, err := src.s.State.Channel(channelID); err == nil && ch.GuildID != "" {
		src.remember(channelID, ch.GuildID)
		return ch.GuildID, nil
	}
	ch, err := src.Channel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.GuildID, nil
}

func kindOf(t discordgo.ChannelType) model.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return model.ChannelKindText
	case discordgo.ChannelTypeGuildForum:
		return model.ChannelKindForum
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return model.ChannelKindThread
	default:
		return model.ChannelKindOther
	}
}

func convertThread(th *discordgo.Channel) model.Thread {
	t := model.Thread{ID: th.ID, Name: th.Name, ParentID: th.ParentID}
	if th.ThreadMetadata != nil {
		t.Archived = th.ThreadMetadata.Archived
	}
	return t
}

// MessageURL builds the jump link for a message.
func MessageURL(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func ConvertMessage(guildID string, m *discordgo.Message) model.Message {
	if m.GuildID != "" {
		guildID = m.GuildID
	}
	out := model.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		URL:       MessageURL(guildID, m.ChannelID, m.ID),
		CreatedAt: m.Timestamp.UnixMilli(),
		Content:   m.Content,
	}
	if m.Author != nil {
		out.Author = model.Author{ID: m.Author.ID, Username: m.Author.Username}
		out.Bot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, model.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
		})
	}
	return out
}

// classify maps Discord REST failures onto model error kinds.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		status := rest.Response.StatusCode
		kind := model.KindTransport
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = model.KindPermissionDenied
		case http.StatusNotFound:
			kind = model.KindNotFound
		}
		return &model.Error{Kind: kind, Op: op, Status: status, Err: err}
	}
	return &model.Error{Kind: model.KindTransport, Op: op, Err: err}
}
