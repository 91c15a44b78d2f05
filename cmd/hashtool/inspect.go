package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repost-radar/internal/hashdb"
	"repost-radar/internal/model"
	"repost-radar/internal/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <channel_id|file.json>",
	Short: "Summarize a stored hash table",
	Long: `Print the header of a stored hash table and its most reposted images.
The argument is either a channel id, looked up in the configured store, or the
path of a hash table file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		ctx := cmd.Context()

		if _, err := os.Stat(args[0]); err == nil {
			return inspectFile(args[0])
		}

		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()
		return inspectChannel(ctx, st.active, args[0], top)
	},
}

func inspectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	channelID, updated, hashes, err := store.Inspect(data)
	if err != nil {
		return err
	}
	fmt.Printf("Channel: %s\nUpdated: %s\nUnique images: %d\n", channelID, updated.Format("2006-01-02 15:04:05 UTC"), hashes)
	return nil
}

func inspectChannel(ctx context.Context, st store.Store, channelID string, top int) error {
	ix, err := st.Load(ctx, channelID)
	if err != nil {
		return err
	}
	fmt.Printf("Channel: %s\nUnique images: %d\nOccurrences: %d\n", channelID, ix.Len(), ix.Occurrences())

	rows := topReposted(ix, top)
	if len(rows) == 0 {
		fmt.Println(color.GreenString("No reposts."))
		return nil
	}
	fmt.Printf("\nMost reposted:\n")
	for _, r := range rows {
		fmt.Printf("  %s  %s  %s by %s\n",
			color.CyanString(r.hash),
			color.YellowString("%d reposts", r.reposts),
			r.url, r.author)
	}
	return nil
}

type repostRow struct {
	hash    string
	reposts int
	url     string
	author  string
}

func topReposted(ix *hashdb.Index, n int) []repostRow {
	var rows []repostRow
	ix.Range(func(hash model.HashValue, rec model.ImageRecord) bool {
		c := hashdb.Classify(rec)
		if len(c.Reposts) > 0 {
			rows = append(rows, repostRow{
				hash:    string(hash),
				reposts: len(c.Reposts),
				url:     c.Original.URL,
				author:  c.Original.Author.Username,
			})
		}
		return true
	})
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].reposts > rows[j].reposts })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func init() {
	inspectCmd.Flags().Int("top", 10, "Show the N most reposted images (0 for all)")
	rootCmd.AddCommand(inspectCmd)
}
