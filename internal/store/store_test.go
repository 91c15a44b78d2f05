package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
	"repost-radar/internal/s3"
)

func occ(id, author string, ts int64) model.Occurrence {
	return model.Occurrence{
		MessageID: id,
		URL:       "https://discord.com/channels/1/2/" + id,
		Author:    model.Author{ID: author + "-id", Username: author},
		Timestamp: ts,
		ChannelID: "2",
		Location:  "post " + id,
	}
}

func sampleIndex() *hashdb.Index {
	ix := hashdb.New()
	ix.Record("ffee", occ("B", "bob", 1700000000123))
	ix.Record("ffee", occ("A", "alice", 1600000000999))
	ix.Record("0001", occ("C", "carol", 1800000000001))
	return ix
}

// memS3 is an in-memory s3.Client.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemS3() *memS3 { return &memS3{objects: map[string][]byte{}} }

func (m *memS3) PutBytes(_ context.Context, key string, b []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), b...)
	return nil
}

func (m *memS3) PutFile(ctx context.Context, key, path, ct string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.PutBytes(ctx, key, b, ct)
}

func (m *memS3) GetBytes(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, s3.ErrNotExist
	}
	return b, nil
}

func (m *memS3) List(_ context.Context, prefix string) ([]s3.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []s3.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, s3.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file": NewFileStore(filepath.Join(t.TempDir(), "hashes")),
		"s3":   NewS3Store(newMemS3(), "hashes/"),
	}
}

func TestRoundTrip(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleIndex()
			require.NoError(t, st.Save(ctx, "123", want))

			got, err := st.Load(ctx, "123")
			require.NoError(t, err)
			assert.Equal(t, want.Entries(), got.Entries())

			rec, ok := got.Get("ffee")
			require.True(t, ok)
			assert.Equal(t, int64(1700000000123), rec.Original.Timestamp)
			assert.Equal(t, int64(1600000000999), rec.Duplicates[0].Timestamp)

			ids, err := st.Channels(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"123"}, ids)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Load(context.Background(), "999")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestInvalidChannelID(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Load(context.Background(), "../etc/passwd")
			assert.ErrorIs(t, err, model.ErrInvalidInput)
			assert.ErrorIs(t, st.Save(context.Background(), "abc", hashdb.New()), model.ErrInvalidInput)
		})
	}
}

func TestLoadCorrupted(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"version":1,"hashes":[{"hash":"ab"`,
		"wrong version":  `{"version":7,"hashes":[]}`,
		"no version":     `{"hashes":[]}`,
		"wrong shape":    `{"version":1,"hashes":{"ab":1}}`,
		"missing record": `{"version":1,"hashes":[{"hash":"ab","record":{}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "5.json"), []byte(body), 0o644))

			_, err := NewFileStore(dir).Load(context.Background(), "5")
			assert.ErrorIs(t, err, model.ErrCorrupted)
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(dir)
	require.NoError(t, st.Save(context.Background(), "1", sampleIndex()))
	require.NoError(t, st.Save(context.Background(), "1", hashdb.New()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1.json", entries[0].Name())
}

func TestInspect(t *testing.T) {
	st := NewFileStore(t.TempDir())
	st.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, st.Save(context.Background(), "77", sampleIndex()))

	data, err := os.ReadFile(st.path("77"))
	require.NoError(t, err)
	id, at, n, err := Inspect(data)
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Equal(t, int64(1700000000000), at.UnixMilli())
	assert.Equal(t, 2, n)
}
