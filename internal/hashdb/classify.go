package hashdb

import (
	"slices"

	"repost-radar/internal/model"
)

// Classification is the report-time view of one record: the canonical
// original is the earliest occurrence, everything after it is a repost.
type Classification struct {
	Original    model.Occurrence
	Reposts     []model.Occurrence
	Stolen      int
	SelfReposts int
}

// Classify sorts all occurrences of rec by timestamp. Ties keep insertion
// order, so the stored original wins a tie.
func Classify(rec model.ImageRecord) Classification {
	all := rec.All()
	slices.SortStableFunc(all, func(a, b model.Occurrence) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})

	c := Classification{Original: all[0], Reposts: all[1:]}
	for _, r := range c.Reposts {
		if r.Author.ID == c.Original.Author.ID {
			c.SelfReposts++
		} else {
			c.Stolen++
		}
	}
	return c
}

// IsSelfRepost reports whether occ was posted by the canonical original's author.
func (c Classification) IsSelfRepost(occ model.Occurrence) bool {
	return occ.Author.ID == c.Original.Author.ID
}
