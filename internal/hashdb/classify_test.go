package hashdb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"repost-radar/internal/model"
)

func TestClassifyResortsByTimestamp(t *testing.T) {
	// B is inserted first, A is older and found later in a newest-first walk.
	rec := model.ImageRecord{
		Original:   occ("B", "bob", 200),
		Duplicates: []model.Occurrence{occ("A", "alice", 100)},
	}

	c := Classify(rec)
	assert.Equal(t, "A", c.Original.MessageID)
	assert.Len(t, c.Reposts, 1)
	assert.Equal(t, 1, c.Stolen)
	assert.Equal(t, 0, c.SelfReposts)
}

func TestClassifySelfRepostEvenWhenLast(t *testing.T) {
	rec := model.ImageRecord{
		Original: occ("1", "alice", 100),
		Duplicates: []model.Occurrence{
			occ("2", "bob", 200),
			occ("3", "carol", 300),
			occ("4", "alice", 400),
		},
	}

	c := Classify(rec)
	assert.Equal(t, 2, c.Stolen)
	assert.Equal(t, 1, c.SelfReposts)
	assert.True(t, c.IsSelfRepost(c.Reposts[2]))
}

func TestClassifyNoReposts(t *testing.T) {
	c := Classify(model.ImageRecord{Original: occ("1", "alice", 100)})
	assert.Empty(t, c.Reposts)
	assert.Zero(t, c.Stolen)
	assert.Zero(t, c.SelfReposts)
}

func TestClassifyTieKeepsInsertionOrder(t *testing.T) {
	rec := model.ImageRecord{
		Original:   occ("first", "alice", 100),
		Duplicates: []model.Occurrence{occ("second", "bob", 100)},
	}
	assert.Equal(t, "first", Classify(rec).Original.MessageID)
}

func TestClassifyDoesNotMutateRecord(t *testing.T) {
	rec := model.ImageRecord{
		Original:   occ("B", "bob", 200),
		Duplicates: []model.Occurrence{occ("A", "alice", 100)},
	}
	Classify(rec)
	assert.Equal(t, "B", rec.Original.MessageID)
	assert.Equal(t, "A", rec.Duplicates[0].MessageID)
}
