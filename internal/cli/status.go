package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect device status files",
}

var statusListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "List the status files a device publishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := d.StatusFiles(cmd.Context())
		if err != nil {
			return fmt.Errorf("list statuses: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(files))
		return nil
	},
}

var statusGetCmd = &cobra.Command{
	Use:   "get <device> <name>",
	Short: "Print a status file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		raw, err := d.Status(cmd.Context(), args[1])
		if err != nil {
			return fmt.Errorf("fetch status %q: %w", args[1], err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode status %q: %w", args[1], err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(doc))
		return nil
	},
}

func init() {
	statusCmd.AddCommand(statusListCmd)
	statusCmd.AddCommand(statusGetCmd)
	rootCmd.AddCommand(statusCmd)
}
