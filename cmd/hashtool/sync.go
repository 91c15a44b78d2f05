package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repost-radar/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync <push|pull>",
	Short: "Copy hash tables between the local hash directory and S3",
	Long: `push copies every table in HASH_DIR to S3; pull copies every table in S3 to
HASH_DIR. Existing tables on the destination are replaced.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"push", "pull"},
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()
		if st.remote == nil {
			return errors.New("S3_* settings are required for sync")
		}

		var from, to store.Store
		switch args[0] {
		case "push":
			from, to = st.file, st.remote
		case "pull":
			from, to = st.remote, st.file
		default:
			return fmt.Errorf("unknown direction %q, want push or pull", args[0])
		}

		if dryRun {
			fmt.Println(color.YellowString("DRY RUN MODE - nothing will be written"))
		}
		n, failed, err := copyTables(cmd.Context(), from, to, dryRun, func(id string, err error) {
			if err != nil {
				fmt.Printf("  %s %s: %v\n", color.RedString("✗"), id, err)
				st.log.Errorf("sync %s: %v", id, err)
				return
			}
			fmt.Printf("  %s %s\n", color.GreenString("✓"), id)
		})
		if err != nil {
			return err
		}
		fmt.Printf("=== %d table(s) synchronized, %d failed ===\n", n, failed)
		if failed > 0 {
			return fmt.Errorf("%d table(s) failed", failed)
		}
		return nil
	},
}

// copyTables copies every table of from into to. Per-table failures are
// reported through done and counted; only listing failures abort.
func copyTables(ctx context.Context, from, to store.Store, dryRun bool, done func(id string, err error)) (copied, failed int, err error) {
	ids, err := from.Channels(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list tables: %w", err)
	}
	for _, id := range ids {
		ix, err := from.Load(ctx, id)
		if err == nil && !dryRun {
			err = to.Save(ctx, id, ix)
		}
		done(id, err)
		if err != nil {
			failed++
			continue
		}
		copied++
	}
	return copied, failed, nil
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "List tables without copying")
	rootCmd.AddCommand(syncCmd)
}
