package hashdb

import (
	"sync"

	"repost-radar/internal/model"
)

// Entry pairs a hash with its record, used for persistence and iteration.
type Entry struct {
	Hash   model.HashValue   `json:"hash"`
	Record model.ImageRecord `json:"record"`
}

// Index maps hashes to image records. It only grows; every method is safe
// for concurrent use by walks sharing one index.
type Index struct {
	mu      sync.RWMutex
	records map[model.HashValue]*model.ImageRecord
	order   []model.HashValue
}

func New() *Index {
	return &Index{records: make(map[model.HashValue]*model.ImageRecord)}
}

// FromEntries rebuilds an index, keeping entry order as insertion order.
// A repeated hash is merged into the first entry's duplicates.
func FromEntries(entries []Entry) *Index {
	ix := &Index{
		records: make(map[model.HashValue]*model.ImageRecord, len(entries)),
		order:   make([]model.HashValue, 0, len(entries)),
	}
	for _, e := range entries {
		if rec, ok := ix.records[e.Hash]; ok {
			rec.Duplicates = append(rec.Duplicates, e.Record.All()...)
			continue
		}
		rec := e.Record
		rec.Duplicates = append([]model.Occurrence(nil), rec.Duplicates...)
		ix.records[e.Hash] = &rec
		ix.order = append(ix.order, e.Hash)
	}
	return ix
}

// Record inserts occ under hash. It returns true when the hash was unseen,
// in which case occ becomes the record's original.
func (ix *Index) Record(hash model.HashValue, occ model.Occurrence) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if rec, ok := ix.records[hash]; ok {
		rec.Duplicates = append(rec.Duplicates, occ)
		return false
	}
	ix.records[hash] = &model.ImageRecord{Original: occ, Duplicates: []model.Occurrence{}}
	ix.order = append(ix.order, hash)
	return true
}

// Len is the number of distinct hashes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// Occurrences is the total number of recorded occurrences.
func (ix *Index) Occurrences() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, rec := range ix.records {
		n += 1 + len(rec.Duplicates)
	}
	return n
}

// Get returns a copy of the record for hash.
func (ix *Index) Get(hash model.HashValue) (model.ImageRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.records[hash]
	if !ok {
		return model.ImageRecord{}, false
	}
	return copyRecord(rec), true
}

// Range calls fn for each hash in insertion order until fn returns false.
// Hashes recorded while Range runs are not visited. The lock is not held
// while fn runs.
func (ix *Index) Range(fn func(hash model.HashValue, rec model.ImageRecord) bool) {
	ix.mu.RLock()
	order := ix.order[:len(ix.order):len(ix.order)]
	ix.mu.RUnlock()

	for _, h := range order {
		rec, ok := ix.Get(h)
		if !ok {
			continue
		}
		if !fn(h, rec) {
			return
		}
	}
}

// Entries snapshots the index in insertion order.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Entry, 0, len(ix.order))
	for _, h := range ix.order {
		out = append(out, Entry{Hash: h, Record: copyRecord(ix.records[h])})
	}
	return out
}

// Merge records the occurrences of other that keep accepts into ix,
// preserving other's order, and returns how many were recorded. A nil keep
// accepts everything.
func (ix *Index) Merge(other *Index, keep func(hash model.HashValue, occ model.Occurrence) bool) int {
	n := 0
	for _, e := range other.Entries() {
		for _, occ := range e.Record.All() {
			if keep != nil && !keep(e.Hash, occ) {
				continue
			}
			ix.Record(e.Hash, occ)
			n++
		}
	}
	return n
}

// MessageIDs is the set of message ids with at least one recorded occurrence.
func (ix *Index) MessageIDs() map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make(map[string]bool)
	for _, rec := range ix.records {
		ids[rec.Original.MessageID] = true
		for _, d := range rec.Duplicates {
			ids[d.MessageID] = true
		}
	}
	return ids
}

func copyRecord(rec *model.ImageRecord) model.ImageRecord {
	out := model.ImageRecord{Original: rec.Original}
	out.Duplicates = make([]model.Occurrence, len(rec.Duplicates))
	copy(out.Duplicates, rec.Duplicates)
	return out
}
