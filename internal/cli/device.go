package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/subtide/iotkit/pkg/fleet"
)

var (
	deviceListOnline    bool
	deviceListHostnames bool
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "List and manage devices",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices visible to the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var devices []*fleet.Device
		var err error
		if deviceListOnline {
			devices, err = client.OnlineDevices(ctx)
		} else {
			devices, err = client.ListDevices(ctx)
		}
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}

		if err := client.PrefetchInfo(ctx, devices); err != nil {
			return fmt.Errorf("fetch device info: %w", err)
		}

		if deviceListHostnames {
			names := make([]string, 0, len(devices))
			for _, d := range devices {
				host, err := d.Hostname(ctx)
				if err != nil {
					return err
				}
				names = append(names, host)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.Format(names))
			return nil
		}

		rows := make([]fleet.Summary, 0, len(devices))
		for _, d := range devices {
			s, err := d.Summarize(ctx)
			if err != nil {
				return err
			}
			rows = append(rows, s)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
		return nil
	},
}

var deviceDescribeCmd = &cobra.Command{
	Use:   "describe <device>",
	Short: "Show the full attribute and property set of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		info, err := d.Info(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetch device info: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(info))
		return nil
	},
}

var deviceSetHostnameCmd = &cobra.Command{
	Use:   "set-hostname <device> <hostname>",
	Short: "Rename a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.SetHostname(cmd.Context(), args[1]); err != nil {
			return fmt.Errorf("set hostname: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Device %d renamed to %q.\n", d.ID(), args[1])
		return nil
	},
}

var deviceSetTypeCmd = &cobra.Command{
	Use:   "set-type <device> <type>",
	Short: "Change the device type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := d.SetType(cmd.Context(), args[1]); err != nil {
			return fmt.Errorf("set type: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Device %d type set to %q.\n", d.ID(), args[1])
		return nil
	},
}

var deviceSetProjectCmd = &cobra.Command{
	Use:   "set-project <device> <project-id>",
	Short: "Move a device into a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		projectID, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("project id must be numeric: %q", args[1])
		}
		if err := d.SetProject(cmd.Context(), projectID); err != nil {
			return fmt.Errorf("set project: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Device %d moved to project %d.\n", d.ID(), projectID)
		return nil
	},
}

var deviceAdminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "Manage device admin users",
}

var deviceAdminsListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "List the user ids with admin rights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		admins, err := d.Admins(cmd.Context())
		if err != nil {
			return fmt.Errorf("list admins: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(admins))
		return nil
	},
}

var deviceAdminsAddCmd = &cobra.Command{
	Use:   "add <device> <user-id>",
	Short: "Grant a user admin rights",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeAdmin(cmd, args, true)
	},
}

var deviceAdminsRemoveCmd = &cobra.Command{
	Use:   "remove <device> <user-id>",
	Short: "Revoke a user's admin rights",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeAdmin(cmd, args, false)
	},
}

func changeAdmin(cmd *cobra.Command, args []string, add bool) error {
	d, err := resolveDevice(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	userID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("user id must be numeric: %q", args[1])
	}
	if add {
		err = d.AddAdmin(cmd.Context(), userID)
	} else {
		err = d.RemoveAdmin(cmd.Context(), userID)
	}
	if err != nil {
		return fmt.Errorf("update admins: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Device %d admins updated.\n", d.ID())
	return nil
}

func init() {
	deviceListCmd.Flags().BoolVar(&deviceListOnline, "online", false, "only devices currently connected")
	deviceListCmd.Flags().BoolVar(&deviceListHostnames, "hostnames-only", false, "print hostnames, one per line")

	deviceAdminsCmd.AddCommand(deviceAdminsListCmd)
	deviceAdminsCmd.AddCommand(deviceAdminsAddCmd)
	deviceAdminsCmd.AddCommand(deviceAdminsRemoveCmd)

	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceDescribeCmd)
	deviceCmd.AddCommand(deviceSetHostnameCmd)
	deviceCmd.AddCommand(deviceSetTypeCmd)
	deviceCmd.AddCommand(deviceSetProjectCmd)
	deviceCmd.AddCommand(deviceAdminsCmd)
	rootCmd.AddCommand(deviceCmd)
}
