package report

import (
	"fmt"
	"sort"
	"time"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
)

// AuthorStats makes one full pass over ix. Rows come back in order of each
// author's first appearance.
func AuthorStats(ix *hashdb.Index) []model.AuthorStats {
	byID := map[string]*model.AuthorStats{}
	var order []string

	get := func(a model.Author) *model.AuthorStats {
		s, ok := byID[a.ID]
		if !ok {
			s = &model.AuthorStats{AuthorID: a.ID, Username: a.Username}
			byID[a.ID] = s
			order = append(order, a.ID)
		}
		return s
	}

	ix.Range(func(_ model.HashValue, rec model.ImageRecord) bool {
		c := hashdb.Classify(rec)

		orig := get(c.Original.Author)
		orig.Touch(c.Original.Timestamp)
		orig.VictimOf += c.Stolen

		for _, r := range c.Reposts {
			s := get(r.Author)
			s.Touch(r.Timestamp)
			s.TotalReposts++
			if c.IsSelfRepost(r) {
				s.SelfReposts++
			} else {
				s.StolenReposts++
			}
		}
		return true
	})

	out := make([]model.AuthorStats, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// RepostRatio is stolen/total to two decimals, "0.00" when total is zero.
func RepostRatio(stolen, total int) string {
	if total == 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(stolen)/float64(total))
}

type TimelineDay struct {
	Date       string // YYYY-MM-DD, UTC
	Total      int
	Duplicates int
}

func (d TimelineDay) Ratio() string {
	return RepostRatio(d.Duplicates, d.Total)
}

// Timeline buckets every hash by the UTC date of its canonical original.
func Timeline(ix *hashdb.Index) []TimelineDay {
	days := map[string]*TimelineDay{}
	ix.Range(func(_ model.HashValue, rec model.ImageRecord) bool {
		c := hashdb.Classify(rec)
		date := c.Original.Time().Format(time.DateOnly)
		d, ok := days[date]
		if !ok {
			d = &TimelineDay{Date: date}
			days[date] = d
		}
		d.Total++
		d.Duplicates += len(c.Reposts)
		return true
	})

	out := make([]TimelineDay, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
