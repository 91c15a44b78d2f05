package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repost-radar/internal/report"
	"repost-radar/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report <channel_id>",
	Short: "Write CSV reports from a stored hash table",
	Long: `Write the duplicate, author and timeline reports for a channel from its
stored hash table, without touching Discord.

Examples:
  hashtool report 123456789012345678
  hashtool report 123456789012345678 --out /tmp/reports`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := store.CheckChannelID(args[0]); err != nil {
			return err
		}
		ix, err := st.active.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if out == "" {
			out = st.cfg.ReportDir
		}

		files, err := report.NewGenerator(out, st.log).Generate(args[0], ix, false)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %d unique images\n", green("✓"), ix.Len())
		for _, p := range files.Paths() {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("out", "", "Report directory (defaults to REPORT_DIR)")
	rootCmd.AddCommand(reportCmd)
}
