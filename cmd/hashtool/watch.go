package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repost-radar/internal/events"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print run and duplicate events published over NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		defer st.Close()
		if st.cfg.NatsURL == "" {
			return errors.New("NATS_URL is required for watch")
		}

		client, err := events.NewClient(st.cfg.NatsURL, st.cfg.NatsToken, st.log)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Subscribe(events.SubjectAll, func(subject string, data []byte) {
			fmt.Println(formatEvent(subject, data))
		}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		fmt.Printf("Watching %s on %s (Ctrl+C to stop)\n", events.SubjectAll, st.cfg.NatsURL)
		<-ctx.Done()
		return nil
	},
}

func formatEvent(subject string, data []byte) string {
	switch subject {
	case events.SubjectDuplicate:
		var ev events.DuplicateDetected
		if err := json.Unmarshal(data, &ev); err == nil {
			kind := "stolen repost"
			if ev.SelfRepost {
				kind = "self repost"
			}
			return fmt.Sprintf("%s %s in %s: %s (original %s)", color.YellowString("DUP"), kind, ev.ChannelID, ev.MessageURL, ev.OriginalURL)
		}
	case events.SubjectRunFinished:
		var ev events.RunFinished
		if err := json.Unmarshal(data, &ev); err == nil {
			status := color.GreenString("OK ")
			if ev.Error != "" {
				status = color.RedString("ERR")
			} else if ev.Partial {
				status = color.YellowString("PART")
			}
			line := fmt.Sprintf("%s %s %s: %d messages, %d images, %d duplicates, %d unique",
				status, ev.Kind, ev.ChannelID, ev.Messages, ev.Images, ev.Duplicates, ev.UniqueImages)
			if ev.Error != "" {
				line += " (" + ev.Error + ")"
			}
			return line
		}
	}
	return fmt.Sprintf("%s %s", subject, data)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
