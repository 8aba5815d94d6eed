package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	fsPattern   string
	fsOverwrite bool
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Browse and transfer files on a device",
}

var fsLsCmd = &cobra.Command{
	Use:   "ls <device> [path]",
	Short: "List a directory on the device",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		path := ""
		if len(args) == 2 {
			path = args[1]
		}
		files, err := d.ListFiles(cmd.Context(), path, fsPattern)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(files))
		return nil
	},
}

var fsGetCmd = &cobra.Command{
	Use:   "get <device> <remote-path> <local-path>",
	Short: "Download a file from the device",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.Pull(cmd.Context(), args[1], args[2], fsOverwrite); err != nil {
			return fmt.Errorf("pull file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s to %s.\n", args[1], args[2])
		return nil
	},
}

var fsPutCmd = &cobra.Command{
	Use:   "put <device> <local-path> <remote-path>",
	Short: "Upload a file to the device",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.Push(cmd.Context(), args[1], args[2], fsOverwrite); err != nil {
			return fmt.Errorf("push file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s to %s.\n", args[1], args[2])
		return nil
	},
}

var fsRmCmd = &cobra.Command{
	Use:   "rm <device> <remote-path>",
	Short: "Delete a file on the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.RemoveFile(cmd.Context(), args[1]); err != nil {
			return fmt.Errorf("remove file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from device %d.\n", args[1], d.ID())
		return nil
	},
}

func init() {
	fsLsCmd.Flags().StringVar(&fsPattern, "pattern", "", "glob filter for listed names")
	fsGetCmd.Flags().BoolVar(&fsOverwrite, "overwrite", false, "replace an existing local file")
	fsPutCmd.Flags().BoolVar(&fsOverwrite, "overwrite", false, "replace an existing remote file")

	fsCmd.AddCommand(fsLsCmd)
	fsCmd.AddCommand(fsGetCmd)
	fsCmd.AddCommand(fsPutCmd)
	fsCmd.AddCommand(fsRmCmd)
	rootCmd.AddCommand(fsCmd)
}
