package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Talk to the device API directly",
	Long: `Open a device API session and call its endpoints. The
available endpoints are discovered from the device at connect time
and differ per device software.`,
}

var apiCallsCmd = &cobra.Command{
	Use:   "calls <device>",
	Short: "List the endpoints a device exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		session, err := d.OpenAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		type endpointRow struct {
			Name string `json:"name"`
			ID   int    `json:"id"`
			Kind string `json:"kind"`
		}
		endpoints := session.Endpoints()
		rows := make([]endpointRow, 0, len(endpoints))
		for _, ep := range endpoints {
			rows = append(rows, endpointRow{Name: ep.Name, ID: ep.ID, Kind: ep.Kind.String()})
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Device API version %s\n", session.Version())
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
		return nil
	},
}

var apiCallCmd = &cobra.Command{
	Use:   "call <device> <endpoint> [key=value ...]",
	Short: "Invoke a call endpoint and print its result",
	Long: `Invoke a call endpoint. Arguments are key=value pairs; values
are parsed as JSON when possible, otherwise passed as strings.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		params, err := parseArgs(args[2:])
		if err != nil {
			return err
		}

		session, err := d.OpenAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		result, err := session.Call(cmd.Context(), args[1], params)
		if err != nil {
			return fmt.Errorf("call %s: %w", args[1], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return nil
	},
}

var apiWatchCmd = &cobra.Command{
	Use:   "watch <device> <endpoint> [key=value ...]",
	Short: "Subscribe to an event endpoint and print each event",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		params, err := parseArgs(args[2:])
		if err != nil {
			return err
		}

		session, err := d.OpenAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer session.Close()

		stream, err := session.Event(cmd.Context(), args[1], params)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", args[1], err)
		}
		defer stream.Close()

		for {
			event, err := stream.Next(cmd.Context())
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if cmd.Context().Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream %s: %w", args[1], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(event))
		}
	},
}

// parseArgs converts key=value pairs into an argument map.
func parseArgs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

func init() {
	apiCmd.AddCommand(apiCallsCmd)
	apiCmd.AddCommand(apiCallCmd)
	apiCmd.AddCommand(apiWatchCmd)
	rootCmd.AddCommand(apiCmd)
}
