package analysis

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal/events"
	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
	"repost-radar/internal/report"
	"repost-radar/internal/store"
	"repost-radar/internal/walker"
)

type fakeSource struct {
	mu       sync.Mutex
	channels map[string]model.Channel
	active   []model.Thread
	archived []model.Thread
	history  map[string][]model.Message // newest first, served in one page
	onFetch  func(channelID string) error
}

func (f *fakeSource) Channel(_ context.Context, id string) (model.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return model.Channel{}, &model.Error{Kind: model.KindNotFound, Status: 404}
	}
	return ch, nil
}

func (f *fakeSource) ActiveThreads(context.Context, string) ([]model.Thread, error) {
	return f.active, nil
}

func (f *fakeSource) ArchivedThreads(context.Context, string) ([]model.Thread, error) {
	return f.archived, nil
}

func (f *fakeSource) FetchMessages(ctx context.Context, channelID, before string, _ int) ([]model.Message, error) {
	if f.onFetch != nil {
		if err := f.onFetch(channelID); err != nil {
			return nil, err
		}
	}
	if before != "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[channelID], nil
}

type urlHasher map[string]model.HashValue

func (h urlHasher) Hash(_ context.Context, att model.Attachment) (model.HashValue, error) {
	if v, ok := h[att.URL]; ok {
		return v, nil
	}
	return "", &model.Error{Kind: model.KindUnsupportedFormat}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, _ string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v)
	return nil
}

type captureProgress struct {
	mu    sync.Mutex
	texts []string
}

func (p *captureProgress) Update(_ context.Context, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
}

func (p *captureProgress) Final(ctx context.Context, text string) { p.Update(ctx, text) }

func msg(id, channel, author string, ts int64, url string) model.Message {
	return model.Message{
		ID:        id,
		ChannelID: channel,
		URL:       "https://discord.com/channels/1/" + channel + "/" + id,
		Author:    model.Author{ID: author, Username: author},
		CreatedAt: ts,
		Attachments: []model.Attachment{
			{URL: url, Filename: url, ContentType: "image/png", Size: 10},
		},
	}
}

type fixture struct {
	src       *fakeSource
	fileStore *store.FileStore
	pub       *capturePublisher
	reportDir string
	an        *Analyzer
}

func newFixture(t *testing.T, tracked ...string) *fixture {
	fx := &fixture{
		src: &fakeSource{
			channels: map[string]model.Channel{
				"100": {ID: "100", Name: "memes", Kind: model.ChannelKindForum},
				"200": {ID: "200", Name: "general", Kind: model.ChannelKindText},
				"300": {ID: "300", Name: "voice", Kind: model.ChannelKindOther},
			},
			active:   []model.Thread{{ID: "101", Name: "post one", ParentID: "100"}},
			archived: []model.Thread{{ID: "102", Name: "post two", ParentID: "100", Archived: true}, {ID: "101", Name: "post one"}},
			history: map[string][]model.Message{
				"101": {msg("m3", "101", "bob", 200, "b.png"), msg("m1", "101", "alice", 100, "a.png")},
				"102": {msg("m4", "102", "carol", 300, "a2.png"), msg("m2", "102", "dave", 150, "gif.gif")},
				"200": {msg("g2", "200", "bob", 20, "b.png"), msg("g1", "200", "alice", 10, "a.png")},
			},
		},
		fileStore: store.NewFileStore(t.TempDir()),
		pub:       &capturePublisher{},
		reportDir: t.TempDir(),
	}
	fx.an = New(Deps{
		Source:  fx.src,
		Hasher:  urlHasher{"a.png": "HA", "a2.png": "HA", "b.png": "HB", "c.png": "HC"},
		Cache:   store.NewCache(fx.fileStore),
		Reports: report.NewGenerator(fx.reportDir, nil),
		Events:  fx.pub,
	}, Options{ChannelConcurrency: 1, TrackedChannels: tracked, Walker: walker.Options{ProgressEvery: 1}})
	return fx
}

func TestCheckForum(t *testing.T) {
	fx := newFixture(t)
	prog := &captureProgress{}

	res, err := fx.an.CheckForum(context.Background(), "100", false, prog)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Targets, "threads listed as both active and archived are walked once")
	assert.Equal(t, 4, res.TotalMessages)
	assert.Equal(t, walker.Stats{Pages: 2, Messages: 4, Images: 3, Duplicates: 1, Skipped: 1}, res.Stats)
	assert.Equal(t, 2, res.UniqueImages)
	assert.False(t, res.Partial)
	require.Len(t, res.Reports.Paths(), 3)
	for _, p := range res.Reports.Paths() {
		assert.True(t, strings.HasPrefix(p, fx.reportDir))
	}

	data, err := os.ReadFile(res.Reports.Duplicates)
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice,post one,1970-01-01,1,carol,post two,1,0")

	require.NotEmpty(t, prog.texts)
	assert.Contains(t, prog.texts[0], "Found 2 posts")
	assert.Contains(t, res.Summary("Forum check complete!"), "Duplicates found: 1")
}

func TestCheckForumRejectsOtherKinds(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.an.CheckForum(context.Background(), "200", false, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = fx.an.CheckForum(context.Background(), "999", false, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCheckForumPartialOnCancel(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counted := map[string]int{}
	fx.src.onFetch = func(channelID string) error {
		counted[channelID]++
		// second thread is stopped during the processing pass, after counting
		if channelID == "102" && counted[channelID] > 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	res, err := fx.an.CheckForum(ctx, "100", true, nil)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.UniqueImages)

	data, err := os.ReadFile(res.Reports.Duplicates)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Partial: true")
}

func TestCheckForumCancelWithoutPartial(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := fx.an.CheckForum(ctx, "100", false, nil)
	assert.Equal(t, model.KindCancelled, model.KindOf(err))
	if res != nil {
		assert.Empty(t, res.Reports.Paths())
	}
}

func TestBuildHashTableAndReportStored(t *testing.T) {
	fx := newFixture(t)
	prog := &captureProgress{}

	res, err := fx.an.BuildHashTable(context.Background(), "200", prog)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalMessages)
	assert.Equal(t, 2, res.UniqueImages)
	assert.NotEmpty(t, prog.texts)

	stored, err := fx.fileStore.Load(context.Background(), "200")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Len())

	rep, err := fx.an.ReportStored(context.Background(), "200")
	require.NoError(t, err)
	assert.Len(t, rep.Reports.Paths(), 3)
}

func TestBuildHashTableForumWalksPosts(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.an.BuildHashTable(context.Background(), "100", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Targets)

	stored, err := fx.fileStore.Load(context.Background(), "100")
	require.NoError(t, err)
	rec, ok := stored.Get("HA")
	require.True(t, ok)
	assert.Len(t, rec.All(), 2)
}

func TestBuildHashTableFailureKeepsOldTable(t *testing.T) {
	fx := newFixture(t)
	old := hashdb.New()
	old.Record("OLD", model.Occurrence{MessageID: "x", Timestamp: 1})
	require.NoError(t, fx.fileStore.Save(context.Background(), "200", old))

	fx.src.onFetch = func(string) error {
		return &model.Error{Kind: model.KindPermissionDenied, Status: 403}
	}
	_, err := fx.an.BuildHashTable(context.Background(), "200", nil)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	stored, err := fx.fileStore.Load(context.Background(), "200")
	require.NoError(t, err)
	_, ok := stored.Get("OLD")
	assert.True(t, ok)
}

func TestBuildHashTableKeepsImagesTrackedDuringWalk(t *testing.T) {
	fx := newFixture(t, "200")
	ctx := context.Background()

	stale := hashdb.New()
	stale.Record("GONE", model.Occurrence{MessageID: "deleted", ChannelID: "200", Timestamp: 1})
	require.NoError(t, fx.fileStore.Save(ctx, "200", stale))

	var once sync.Once
	fx.src.onFetch = func(string) error {
		once.Do(func() {
			_, err := fx.an.TrackMessage(ctx, msg("live", "200", "eve", 5000, "c.png"))
			assert.NoError(t, err)
		})
		return nil
	}

	res, err := fx.an.BuildHashTable(ctx, "200", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UniqueImages)

	stored, err := fx.fileStore.Load(ctx, "200")
	require.NoError(t, err)
	rec, ok := stored.Get("HC")
	require.True(t, ok, "image tracked during the walk must survive the rebuild")
	assert.Equal(t, "live", rec.Original.MessageID)
	assert.Equal(t, "general", rec.Original.Place())
	_, ok = stored.Get("GONE")
	assert.False(t, ok)

	cached, err := fx.an.cache.Get(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, stored.Entries(), cached.Entries())
}

func TestReportStoredMissing(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.an.ReportStored(context.Background(), "200")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBuildHashTableRejectsVoice(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.an.BuildHashTable(context.Background(), "300", nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestTrackMessage(t *testing.T) {
	fx := newFixture(t, "200")
	ctx := context.Background()

	dups, err := fx.an.TrackMessage(ctx, msg("l1", "200", "alice", 1000, "a.png"))
	require.NoError(t, err)
	assert.Empty(t, dups)

	dups, err = fx.an.TrackMessage(ctx, msg("l2", "200", "bob", 2000, "a2.png"))
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "HA", dups[0].Hash)
	assert.Equal(t, "alice", dups[0].OriginalAuthor)
	assert.False(t, dups[0].SelfRepost)

	require.Len(t, fx.pub.events, 1)
	assert.IsType(t, events.DuplicateDetected{}, fx.pub.events[0])

	stored, err := fx.fileStore.Load(ctx, "200")
	require.NoError(t, err)
	rec, _ := stored.Get("HA")
	assert.Len(t, rec.Duplicates, 1)
	assert.Equal(t, "general", rec.Duplicates[0].Place())
}

func TestTrackMessageIgnoresUntrackedAndBots(t *testing.T) {
	fx := newFixture(t, "200")
	ctx := context.Background()

	dups, err := fx.an.TrackMessage(ctx, msg("x", "999", "alice", 1, "a.png"))
	require.NoError(t, err)
	assert.Nil(t, dups)

	bot := msg("y", "200", "bot", 1, "a.png")
	bot.Bot = true
	dups, err = fx.an.TrackMessage(ctx, bot)
	require.NoError(t, err)
	assert.Nil(t, dups)

	_, err = fx.fileStore.Load(ctx, "200")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
