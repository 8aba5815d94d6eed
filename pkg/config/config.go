// Package config loads and persists the iotctl configuration file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/subtide/iotkit/pkg/rest"
)

// Config holds the persisted CLI settings. Flags and environment
// variables override these at runtime.
type Config struct {
	URL     string `yaml:"url" json:"url"`
	Token   string `yaml:"token" json:"token"`
	Project string `yaml:"project" json:"project"`
	Output  string `yaml:"output" json:"output"`
}

// ErrLockTimeout is returned when another process holds the config
// lock for too long.
var ErrLockTimeout = errors.New("config: timed out waiting for file lock")

const lockTimeout = 5 * time.Second

// DefaultPath returns the default config file path:
// ~/.config/iotkit/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".iotkit", "config.yaml")
	}
	return filepath.Join(home, ".config", "iotkit", "config.yaml")
}

// Load reads the configuration from path, then applies environment
// overrides. A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := &Config{Output: "table"}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		cfg.applyEnv()
		return cfg, nil
	case err != nil:
		return nil, err
	}

	// The file may hold a token; warn when other users can read it.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		fmt.Fprintf(os.Stderr,
			"warning: config file %s has permissions %04o, expected 0600\n",
			path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Output == "" {
		cfg.Output = "table"
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(rest.EnvURL); v != "" {
		c.URL = v
	}
	if v := os.Getenv(rest.EnvToken); v != "" {
		c.Token = v
	}
}

// Save writes the configuration to path, creating parent directories
// as needed. A file lock serializes concurrent saves across
// processes.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return ErrLockTimeout
	}
	defer fl.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
