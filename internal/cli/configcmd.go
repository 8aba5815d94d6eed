package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subtide/iotkit/pkg/fleet"
)

var configWatch bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage device configuration files",
}

var configListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "List the configuration files on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := d.ConfigFiles(cmd.Context())
		if err != nil {
			return fmt.Errorf("list configs: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(files))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <device> <name>",
	Short: "Print a configuration file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		raw, err := d.Config(cmd.Context(), args[1])
		if err != nil {
			return fmt.Errorf("fetch config %q: %w", args[1], err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode config %q: %w", args[1], err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(doc))
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <device> <name> <key> <value>",
	Short: "Set one key in a configuration file",
	Long: `Set one key in a configuration file, creating the file if it
does not exist. The value is parsed as JSON when possible, otherwise
it is stored as a string.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.SetConfigKey(cmd.Context(), args[1], args[2], parseValue(args[3])); err != nil {
			return fmt.Errorf("set config key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s.%s on device %d.\n", args[1], args[2], d.ID())
		return nil
	},
}

var configClearKeyCmd = &cobra.Command{
	Use:   "clear-key <device> <name> <key>",
	Short: "Remove one key from a configuration file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.ClearConfigKey(cmd.Context(), args[1], args[2]); err != nil {
			return fmt.Errorf("clear config key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s.%s on device %d.\n", args[1], args[2], d.ID())
		return nil
	},
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove <device> <name>",
	Short: "Delete a configuration file from a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.RemoveConfig(cmd.Context(), args[1]); err != nil {
			return fmt.Errorf("remove config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed config %q from device %d.\n", args[1], d.ID())
		return nil
	},
}

var configSyncCmd = &cobra.Command{
	Use:   "sync <device> <dir>",
	Short: "Push a directory of JSON config files to a device",
	Long: `Push every *.json file in a directory to the device, named by
filename without the extension. With --watch the command keeps
running and re-pushes files as they change.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if configWatch {
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for config changes...\n", args[1])
			return d.WatchConfigs(cmd.Context(), args[1], fleet.SyncOptions{})
		}
		if err := d.SyncConfigs(cmd.Context(), args[1], fleet.SyncOptions{}); err != nil {
			return fmt.Errorf("sync configs: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configs from %s pushed to device %d.\n", args[1], d.ID())
		return nil
	},
}

// parseValue interprets a CLI value argument: JSON when it parses,
// plain string otherwise.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func init() {
	configSyncCmd.Flags().BoolVar(&configWatch, "watch", false, "keep running and push files as they change")

	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configClearKeyCmd)
	configCmd.AddCommand(configRemoveCmd)
	configCmd.AddCommand(configSyncCmd)
	rootCmd.AddCommand(configCmd)
}
