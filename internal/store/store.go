package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
	"repost-radar/internal/s3"
)

// Store persists one hash table per channel. Load returns a KindNotFound
// error when nothing was saved yet and KindCorrupted when the stored
// document cannot be trusted.
type Store interface {
	Load(ctx context.Context, channelID string) (*hashdb.Index, error)
	Save(ctx context.Context, channelID string, ix *hashdb.Index) error
	Channels(ctx context.Context) ([]string, error)
}

// FileStore keeps <dir>/<channelID>.json and replaces it atomically.
type FileStore struct {
	dir string
	now func() time.Time
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) path(channelID string) string {
	return filepath.Join(s.dir, channelID+".json")
}

func (s *FileStore) Load(_ context.Context, channelID string) (*hashdb.Index, error) {
	if err := CheckChannelID(channelID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(channelID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NewError(model.KindNotFound, "load hash table", fmt.Errorf("channel %s", channelID))
		}
		return nil, model.NewError(model.KindPersistence, "load hash table", err)
	}
	return decode(channelID, data)
}

func (s *FileStore) Save(_ context.Context, channelID string, ix *hashdb.Index) error {
	const op = "save hash table"
	if err := CheckChannelID(channelID); err != nil {
		return err
	}
	data, err := encode(channelID, ix, s.now())
	if err != nil {
		return model.NewError(model.KindPersistence, op, err)
	}
	if err := writeAtomic(s.dir, s.path(channelID), data); err != nil {
		return model.NewError(model.KindPersistence, op, err)
	}
	return nil
}

func (s *FileStore) Channels(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		id := strings.TrimSuffix(filepath.Base(m), ".json")
		if channelIDPattern.MatchString(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// over path, so readers see either the old or the new document.
func writeAtomic(dir, path string, data []byte) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// S3Store keeps <prefix><channelID>.json in a bucket. A PUT replaces the
// object atomically.
type S3Store struct {
	client s3.Client
	prefix string
	now    func() time.Time
}

func NewS3Store(client s3.Client, prefix string) *S3Store {
	return &S3Store{client: client, prefix: prefix, now: time.Now}
}

func (s *S3Store) key(channelID string) string {
	return s.prefix + channelID + ".json"
}

func (s *S3Store) Load(ctx context.Context, channelID string) (*hashdb.Index, error) {
	if err := CheckChannelID(channelID); err != nil {
		return nil, err
	}
	data, err := s.client.GetBytes(ctx, s.key(channelID))
	if err != nil {
		if s3.IsNotExist(err) {
			return nil, model.NewError(model.KindNotFound, "load hash table", fmt.Errorf("channel %s", channelID))
		}
		return nil, model.NewError(model.KindPersistence, "load hash table", err)
	}
	return decode(channelID, data)
}

func (s *S3Store) Save(ctx context.Context, channelID string, ix *hashdb.Index) error {
	const op = "save hash table"
	if err := CheckChannelID(channelID); err != nil {
		return err
	}
	data, err := encode(channelID, ix, s.now())
	if err != nil {
		return model.NewError(model.KindPersistence, op, err)
	}
	if err := s.client.PutBytes(ctx, s.key(channelID), data, "application/json"); err != nil {
		return model.NewError(model.KindPersistence, op, err)
	}
	return nil
}

func (s *S3Store) Channels(ctx context.Context) ([]string, error) {
	objs, err := s.client.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, o := range objs {
		id := strings.TrimSuffix(strings.TrimPrefix(o.Key, s.prefix), ".json")
		if channelIDPattern.MatchString(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}
