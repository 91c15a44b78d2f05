package hashdb

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal/model"
)

func occ(id, author string, ts int64) model.Occurrence {
	return model.Occurrence{
		MessageID: id,
		URL:       "https://discord.com/channels/1/2/" + id,
		Author:    model.Author{ID: author, Username: author},
		Timestamp: ts,
		ChannelID: "2",
	}
}

func TestRecordNewThenDuplicate(t *testing.T) {
	ix := New()

	assert.True(t, ix.Record("h1", occ("a", "alice", 100)))
	assert.False(t, ix.Record("h1", occ("b", "bob", 200)))

	rec, ok := ix.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "a", rec.Original.MessageID)
	require.Len(t, rec.Duplicates, 1)
	assert.Equal(t, "b", rec.Duplicates[0].MessageID)
}

func TestLenEqualsDistinctHashesForAnyOrder(t *testing.T) {
	pairs := []struct {
		hash model.HashValue
		occ  model.Occurrence
	}{}
	for i := 0; i < 200; i++ {
		h := model.HashValue(fmt.Sprintf("h%d", i%37))
		pairs = append(pairs, struct {
			hash model.HashValue
			occ  model.Occurrence
		}{h, occ(fmt.Sprint(i), "u", int64(i))})
	}

	for seed := int64(0); seed < 5; seed++ {
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })

		ix := New()
		for _, p := range pairs {
			ix.Record(p.hash, p.occ)
		}
		assert.Equal(t, 37, ix.Len())
		assert.Equal(t, 200, ix.Occurrences())
	}
}

func TestConcurrentRecord(t *testing.T) {
	ix := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if ix.Record(model.HashValue(fmt.Sprintf("h%d", i)), occ(fmt.Sprintf("%d-%d", w, i), "u", int64(i))) {
					mu.Lock()
					newCount++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 100, ix.Len())
	assert.Equal(t, 100, newCount)
	assert.Equal(t, 800, ix.Occurrences())
}

func TestRangeKeepsInsertionOrder(t *testing.T) {
	ix := New()
	for _, h := range []model.HashValue{"c", "a", "b"} {
		ix.Record(h, occ(string(h), "u", 1))
	}

	var seen []model.HashValue
	ix.Range(func(h model.HashValue, _ model.ImageRecord) bool {
		seen = append(seen, h)
		return true
	})
	assert.Equal(t, []model.HashValue{"c", "a", "b"}, seen)

	seen = nil
	ix.Range(func(h model.HashValue, _ model.ImageRecord) bool {
		seen = append(seen, h)
		return false
	})
	assert.Len(t, seen, 1)
}

func TestGetReturnsCopy(t *testing.T) {
	ix := New()
	ix.Record("h", occ("a", "alice", 1))
	ix.Record("h", occ("b", "bob", 2))

	rec, _ := ix.Get("h")
	rec.Duplicates[0].MessageID = "mutated"

	again, _ := ix.Get("h")
	assert.Equal(t, "b", again.Duplicates[0].MessageID)
}

func TestFromEntriesRoundTrip(t *testing.T) {
	ix := New()
	ix.Record("h1", occ("a", "alice", 100))
	ix.Record("h2", occ("c", "alice", 300))
	ix.Record("h1", occ("b", "bob", 200))

	rebuilt := FromEntries(ix.Entries())
	assert.Equal(t, ix.Entries(), rebuilt.Entries())
}

func TestMerge(t *testing.T) {
	a := New()
	a.Record("h1", occ("a", "alice", 100))

	b := New()
	b.Record("h1", occ("b", "bob", 200))
	b.Record("h2", occ("c", "carol", 300))

	assert.Equal(t, 2, a.Merge(b, nil))
	assert.Equal(t, 2, a.Len())
	rec, _ := a.Get("h1")
	assert.Equal(t, "a", rec.Original.MessageID)
	assert.Len(t, rec.Duplicates, 1)
}

func TestMergeFiltered(t *testing.T) {
	walked := New()
	walked.Record("h1", occ("a", "alice", 100))

	live := New()
	live.Record("h1", occ("a", "alice", 100))
	live.Record("h1", occ("x", "eve", 500))
	live.Record("h3", occ("y", "eve", 600))

	seen := walked.MessageIDs()
	n := walked.Merge(live, func(_ model.HashValue, o model.Occurrence) bool { return !seen[o.MessageID] })
	assert.Equal(t, 2, n)

	rec, _ := walked.Get("h1")
	assert.Equal(t, "a", rec.Original.MessageID)
	require.Len(t, rec.Duplicates, 1)
	assert.Equal(t, "x", rec.Duplicates[0].MessageID)
	_, ok := walked.Get("h3")
	assert.True(t, ok)
	assert.Equal(t, map[string]bool{"a": true, "x": true, "y": true}, walked.MessageIDs())
}
