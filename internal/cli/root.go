// Package cli implements the iotctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/subtide/iotkit/pkg/config"
	"github.com/subtide/iotkit/pkg/fleet"
	"github.com/subtide/iotkit/pkg/logging"
	"github.com/subtide/iotkit/pkg/output"
	"github.com/subtide/iotkit/pkg/rest"
)

var (
	// Global flags
	cfgFile      string
	serverURL    string
	token        string
	project      string
	outputFormat string
	verbose      bool

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	client    *fleet.Client
	formatter output.Formatter
	logger    zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "iotctl",
	Short: "Manage IoT devices: fleet queries, configs, events, ports, files, and the device API",
	Long: `iotctl is the operator CLI for the IoT management service.
It lists and inspects devices, edits device configuration, tails
events, maps ports, moves files, and calls device API endpoints
directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.Init(verbose)

		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if serverURL != "" {
			cfg.URL = serverURL
		}
		if token != "" {
			cfg.Token = token
		}
		if project != "" {
			cfg.Project = project
		}
		if outputFormat != "" {
			cfg.Output = outputFormat
		}

		if client == nil {
			rc := rest.New(cfg.URL,
				rest.WithToken(cfg.Token),
				rest.WithProject(cfg.Project),
				rest.WithLogger(logger))
			client = fleet.New(rc, fleet.WithLogger(logger))
		}
		if formatter == nil {
			formatter = output.NewFormatter(cfg.Output)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// SetClient injects a fleet client; tests point it at a fake service.
func SetClient(c *fleet.Client) {
	client = c
}

// SetFormatter injects a formatter.
func SetFormatter(f output.Formatter) {
	formatter = f
}

// RootCmd returns the root command for tests.
func RootCmd() *cobra.Command {
	return rootCmd
}

// resolveDevice turns a free-form device reference into a handle.
func resolveDevice(ctx context.Context, ref string) (*fleet.Device, error) {
	d, err := client.DeviceFuzzy(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", ref, err)
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/iotkit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "management service URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "project subdomain scope")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
