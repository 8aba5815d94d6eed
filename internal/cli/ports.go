package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	sshProxyJump string
	sshUser      string
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage proxied ports to devices",
}

var portsListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "List the port mappings active for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ports, err := d.MappedPorts(cmd.Context())
		if err != nil {
			return fmt.Errorf("list port mappings: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(ports))
		return nil
	},
}

var portsMapCmd = &cobra.Command{
	Use:   "map <device> <remote-port> [remote-host]",
	Short: "Map a service-side port to a port on the device",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		remotePort, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("remote port must be numeric: %q", args[1])
		}
		remoteHost := "localhost"
		if len(args) == 3 {
			remoteHost = args[2]
		}

		localPort, err := d.MapPort(cmd.Context(), remotePort, remoteHost)
		if err != nil {
			return fmt.Errorf("map port: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Mapped local port %d to %s:%d on device %d.\n",
			localPort, remoteHost, remotePort, d.ID())
		return nil
	},
}

var portsUnmapCmd = &cobra.Command{
	Use:   "unmap <device> <local-port>",
	Short: "Release a mapped local port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		localPort, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("local port must be numeric: %q", args[1])
		}
		if err := d.UnmapPort(cmd.Context(), localPort); err != nil {
			return fmt.Errorf("unmap port: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unmapped local port %d on device %d.\n", localPort, d.ID())
		return nil
	},
}

var portsSSHConfigCmd = &cobra.Command{
	Use:   "ssh-config <device>",
	Short: "Print an ssh_config Host block reaching the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		block, err := d.SSHHostConfig(cmd.Context(), sshProxyJump, sshUser)
		if err != nil {
			return fmt.Errorf("build ssh config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), block)
		return nil
	},
}

func init() {
	portsSSHConfigCmd.Flags().StringVar(&sshProxyJump, "proxy-jump", "", "ProxyJump host for the generated block")
	portsSSHConfigCmd.Flags().StringVar(&sshUser, "user", "root", "login user for the generated block")

	portsCmd.AddCommand(portsListCmd)
	portsCmd.AddCommand(portsMapCmd)
	portsCmd.AddCommand(portsUnmapCmd)
	portsCmd.AddCommand(portsSSHConfigCmd)
	rootCmd.AddCommand(portsCmd)
}
