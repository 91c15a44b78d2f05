package store

import (
	"context"
	"sort"
	"sync"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
)

// Cache keeps loaded hash tables in memory and serializes load-mutate-save
// per channel. It does not watch the store for external writers.
type Cache struct {
	store Store

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	tables map[string]*hashdb.Index
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:  store,
		locks:  make(map[string]*sync.Mutex),
		tables: make(map[string]*hashdb.Index),
	}
}

func (c *Cache) channelLock(channelID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channelID] = l
	}
	return l
}

func (c *Cache) cached(channelID string) (*hashdb.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.tables[channelID]
	return ix, ok
}

func (c *Cache) put(channelID string, ix *hashdb.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[channelID] = ix
}

// load must be called with the channel lock held.
func (c *Cache) load(ctx context.Context, channelID string) (*hashdb.Index, error) {
	if ix, ok := c.cached(channelID); ok {
		return ix, nil
	}
	ix, err := c.store.Load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	c.put(channelID, ix)
	return ix, nil
}

// Get returns the channel's table, loading it on first use. The returned
// index is shared; mutate it only through Update.
func (c *Cache) Get(ctx context.Context, channelID string) (*hashdb.Index, error) {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	return c.load(ctx, channelID)
}

// Update runs fn on the channel's table under the channel lock and saves
// the table when fn reports a change. A table that was never saved starts
// empty; a corrupted one is an error.
func (c *Cache) Update(ctx context.Context, channelID string, fn func(ix *hashdb.Index) (changed bool, err error)) error {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	ix, err := c.load(ctx, channelID)
	if err != nil {
		if model.KindOf(err) != model.KindNotFound {
			return err
		}
		ix = hashdb.New()
	}

	changed, err := fn(ix)
	if err != nil {
		// fn may have left ix half-changed and it was never saved.
		c.drop(channelID)
		return err
	}
	if !changed {
		c.put(channelID, ix)
		return nil
	}
	if err := c.store.Save(ctx, channelID, ix); err != nil {
		// The in-memory table is ahead of the store; drop it so the next
		// load sees what was actually persisted.
		c.drop(channelID)
		return err
	}
	c.put(channelID, ix)
	return nil
}

// Rebuild makes ix the channel's table. Under the channel lock, occurrences
// of the current table whose message ix has not seen and that keep accepts
// are merged into ix first, so writes made through Update while ix was
// being built survive. A corrupted current table is discarded. It returns
// the number of merged occurrences.
func (c *Cache) Rebuild(ctx context.Context, channelID string, ix *hashdb.Index, keep func(occ model.Occurrence) bool) (int, error) {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	merged := 0
	cur, err := c.load(ctx, channelID)
	switch {
	case err == nil:
		seen := ix.MessageIDs()
		merged = ix.Merge(cur, func(_ model.HashValue, occ model.Occurrence) bool {
			return !seen[occ.MessageID] && (keep == nil || keep(occ))
		})
	case model.KindOf(err) == model.KindNotFound, model.KindOf(err) == model.KindCorrupted:
	default:
		return 0, err
	}

	if err := c.store.Save(ctx, channelID, ix); err != nil {
		c.drop(channelID)
		return merged, err
	}
	c.put(channelID, ix)
	return merged, nil
}

// Invalidate forgets the cached table so the next access reloads it.
func (c *Cache) Invalidate(channelID string) {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	c.drop(channelID)
}

func (c *Cache) drop(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, channelID)
}

// Loaded lists the channel ids currently held in memory.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tables))
	for id := range c.tables {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) Store() Store { return c.store }
