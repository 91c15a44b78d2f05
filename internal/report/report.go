package report

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/logging"
	"repost-radar/internal/model"
)

const (
	KindDuplicate = "duplicate"
	KindAuthor    = "author"
	KindTimeline  = "timeline"
)

// Header is the #-prefixed metadata block on top of every report.
type Header struct {
	Title        string
	ChannelID    string
	Generated    time.Time
	UniqueImages int
	Partial      bool
}

func (h Header) write(w io.Writer) error {
	lines := []string{
		"# " + h.Title,
		"# Channel ID: " + h.ChannelID,
		"# Analysis performed at: " + h.Generated.UTC().Format(time.DateTime) + " UTC",
		"# Total unique images analyzed: " + strconv.Itoa(h.UniqueImages),
	}
	if h.Partial {
		lines = append(lines, "# Partial: true")
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n\n")
	return err
}

var duplicateColumns = []string{
	"Original Post URL", "Original Poster", "Original Location", "Upload Date",
	"Number of Duplicates", "Users Who Reposted", "Locations of Reposts",
	"Stolen Reposts", "Self-Reposts",
}

// WriteDuplicates streams one row per hash, canonical original first.
func WriteDuplicates(w io.Writer, h Header, ix *hashdb.Index) error {
	if err := h.write(w); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(duplicateColumns); err != nil {
		return err
	}

	var werr error
	ix.Range(func(_ model.HashValue, rec model.ImageRecord) bool {
		c := hashdb.Classify(rec)
		werr = cw.Write([]string{
			c.Original.URL,
			c.Original.Author.Username,
			c.Original.Place(),
			c.Original.Time().Format(time.DateOnly),
			strconv.Itoa(len(c.Reposts)),
			strings.Join(lo.Map(c.Reposts, func(o model.Occurrence, _ int) string { return o.Author.Username }), ";"),
			strings.Join(lo.Map(c.Reposts, func(o model.Occurrence, _ int) string { return o.Place() }), ";"),
			strconv.Itoa(c.Stolen),
			strconv.Itoa(c.SelfReposts),
		})
		return werr == nil
	})
	if werr != nil {
		return werr
	}
	cw.Flush()
	return cw.Error()
}

var authorColumns = []string{
	"Author ID", "Username", "Total Reposts", "Self Reposts", "Stolen Reposts",
	"Times Been Reposted", "Repost Ratio", "First Activity", "Last Activity",
}

func WriteAuthors(w io.Writer, h Header, stats []model.AuthorStats) error {
	if err := h.write(w); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(authorColumns); err != nil {
		return err
	}
	for _, s := range stats {
		row := []string{
			s.AuthorID,
			s.Username,
			strconv.Itoa(s.TotalReposts),
			strconv.Itoa(s.SelfReposts),
			strconv.Itoa(s.StolenReposts),
			strconv.Itoa(s.VictimOf),
			RepostRatio(s.StolenReposts, s.TotalReposts),
			isoTime(s.FirstActivity),
			isoTime(s.LastActivity),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var timelineColumns = []string{"Date", "Total Images", "Duplicates", "Duplicate Ratio"}

func WriteTimeline(w io.Writer, h Header, days []TimelineDay) error {
	if err := h.write(w); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(timelineColumns); err != nil {
		return err
	}
	for _, d := range days {
		if err := cw.Write([]string{d.Date, strconv.Itoa(d.Total), strconv.Itoa(d.Duplicates), d.Ratio()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func isoTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// Files holds the paths of one run's reports.
type Files struct {
	Duplicates string `json:"duplicates"`
	Authors    string `json:"authors"`
	Timeline   string `json:"timeline"`
}

func (f Files) Paths() []string {
	return lo.Compact([]string{f.Duplicates, f.Authors, f.Timeline})
}

// Generator writes report files into one directory. File names carry the
// channel id and the generation time in millis and are never overwritten.
type Generator struct {
	dir string
	now func() time.Time
	log *logging.Logger
}

func NewGenerator(dir string, log *logging.Logger) *Generator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Generator{dir: dir, now: time.Now, log: log}
}

// Generate writes all three reports for ix. A failure aborts the remaining
// reports but leaves ix untouched.
func (g *Generator) Generate(channelID string, ix *hashdb.Index, partial bool) (Files, error) {
	now := g.now()
	header := func(title string) Header {
		return Header{Title: title, ChannelID: channelID, Generated: now, UniqueImages: ix.Len(), Partial: partial}
	}

	var files Files
	var err error
	files.Duplicates, err = g.write(KindDuplicate, channelID, now, func(w io.Writer) error {
		return WriteDuplicates(w, header("Forum Analysis Report"), ix)
	})
	if err != nil {
		return files, err
	}
	files.Authors, err = g.write(KindAuthor, channelID, now, func(w io.Writer) error {
		return WriteAuthors(w, header("Author Report"), AuthorStats(ix))
	})
	if err != nil {
		return files, err
	}
	files.Timeline, err = g.write(KindTimeline, channelID, now, func(w io.Writer) error {
		return WriteTimeline(w, header("Timeline Report"), Timeline(ix))
	})
	if err != nil {
		return files, err
	}

	g.log.Infof("report: generated %d reports for channel %s (%d unique images)", len(files.Paths()), channelID, ix.Len())
	return files, nil
}

func (g *Generator) write(kind, channelID string, now time.Time, render func(io.Writer) error) (string, error) {
	op := "generate " + kind + " report"
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", model.NewError(model.KindReport, op, err)
	}

	f, path, err := createUnique(g.dir, kind, channelID, now)
	if err != nil {
		return "", model.NewError(model.KindReport, op, err)
	}

	bw := bufio.NewWriter(f)
	err = render(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", model.NewError(model.KindReport, op, err)
	}
	return path, nil
}

// createUnique opens <kind>_report_<channel>_<millis>.csv exclusively,
// bumping the millis on collision.
func createUnique(dir, kind, channelID string, now time.Time) (*os.File, string, error) {
	ms := now.UnixMilli()
	for attempt := 0; attempt < 1000; attempt++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_report_%s_%d.csv", kind, channelID, ms+int64(attempt)))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free report name for channel %s", channelID)
}
