package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subtide/iotkit/pkg/fleet"
)

var (
	eventKinds []string
	eventLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and follow device events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "Show the recent event log of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		table, err := d.Events(cmd.Context(), eventKinds, eventLimit)
		if err != nil {
			return fmt.Errorf("fetch events: %w", err)
		}

		rows := make([]map[string]any, 0, len(table.Data))
		for _, data := range table.Data {
			row := map[string]any{}
			for i, h := range table.Headers {
				if i < len(data) {
					row[h] = data[i]
				}
			}
			rows = append(rows, row)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
		return nil
	},
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch [device]",
	Short: "Stream live events, one JSON document per line",
	Long: `Stream live events to stdout as they happen. With a device
argument only that device's events are shown; without one the feed
covers every visible device. Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var devices []*fleet.Device
		if len(args) == 1 {
			d, err := resolveDevice(ctx, args[0])
			if err != nil {
				return err
			}
			devices = []*fleet.Device{d}
		}

		feed, err := client.WatchEvents(ctx, devices, eventKinds)
		if err != nil {
			return fmt.Errorf("open event feed: %w", err)
		}
		defer feed.Close()

		for {
			event, err := feed.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(event))
		}
	},
}

func init() {
	eventsListCmd.Flags().StringSliceVar(&eventKinds, "kind", nil, "filter by event kind (repeatable)")
	eventsListCmd.Flags().IntVar(&eventLimit, "limit", 0, "maximum rows (0 for server default)")
	eventsWatchCmd.Flags().StringSliceVar(&eventKinds, "kind", nil, "filter by event kind (repeatable)")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
	rootCmd.AddCommand(eventsCmd)
}
