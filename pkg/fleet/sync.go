package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// SyncOptions controls config-directory synchronization.
type SyncOptions struct {
	// Pattern selects the files to push, relative to the directory.
	// Defaults to "*.json".
	Pattern string
	// Debounce coalesces bursts of filesystem events before a re-push.
	// Defaults to 500ms.
	Debounce time.Duration
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.Pattern == "" {
		o.Pattern = "*.json"
	}
	if o.Debounce == 0 {
		o.Debounce = 500 * time.Millisecond
	}
	return o
}

// SyncConfigs pushes every matching config file in dir to the device.
// The config name is the filename without its extension. Files that do
// not parse as JSON are rejected before anything is sent.
func (d *Device) SyncConfigs(ctx context.Context, dir string, opts SyncOptions) error {
	opts = opts.withDefaults()

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, opts.Pattern))
	if err != nil {
		return fmt.Errorf("fleet: bad sync pattern %q: %w", opts.Pattern, err)
	}

	for _, path := range matches {
		if err := d.pushConfigFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) pushConfigFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var config any
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("fleet: %s is not valid JSON: %w", path, err)
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	d.c.log.Info().Int("device_id", d.id).Str("config", name).Msg("pushing config")
	return d.ReplaceConfig(ctx, name, config)
}

// WatchConfigs pushes the directory once, then re-pushes changed files
// until ctx is cancelled. Filesystem events are debounced; several
// quick saves of the same file produce one push.
func (d *Device) WatchConfigs(ctx context.Context, dir string, opts SyncOptions) error {
	opts = opts.withDefaults()

	if err := d.SyncConfigs(ctx, dir, opts); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	changed := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			match, err := doublestar.Match(opts.Pattern, filepath.Base(event.Name))
			if err != nil || !match {
				continue
			}
			changed[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.c.log.Warn().Err(err).Msg("config watcher error")

		case <-timerC:
			timerC = nil
			for path := range changed {
				if _, err := os.Stat(path); err != nil {
					continue // removed between event and push
				}
				if err := d.pushConfigFile(ctx, path); err != nil {
					d.c.log.Error().Err(err).Str("path", path).Msg("config push failed")
				}
			}
			changed = map[string]struct{}{}
		}
	}
}
