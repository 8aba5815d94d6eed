package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/subtide/iotkit/pkg/rest"
)

// FileInfo is one entry of a device directory listing.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Dir  bool   `json:"dir"`
}

// fsPath builds the virtual filesystem path for this device.
func (d *Device) fsPath(path string) string {
	return fmt.Sprintf("iot/device/fs/%d/%s", d.id, strings.TrimLeft(path, "/"))
}

// ListFiles returns the directory listing at path. A non-empty
// pattern filters entries by doublestar glob against the name.
func (d *Device) ListFiles(ctx context.Context, path, pattern string) ([]FileInfo, error) {
	raw, err := d.c.rest.Call(ctx, d.fsPath(path), nil,
		rest.WithMethod(http.MethodGet),
		rest.WithQuery(url.Values{"dir_only": {"true"}}))
	if err != nil {
		return nil, err
	}

	var entries []FileInfo
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("fleet: decode listing for %s: %w", path, err)
	}

	if pattern == "" {
		return entries, nil
	}
	filtered := entries[:0]
	for _, e := range entries {
		ok, err := doublestar.Match(pattern, e.Name)
		if err != nil {
			return nil, fmt.Errorf("fleet: bad pattern %q: %w", pattern, err)
		}
		if ok {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// ReadFile fetches a device file into memory and reports its content
// type.
func (d *Device) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	var buf bytes.Buffer
	ctype, err := d.c.rest.Download(ctx, d.fsPath(path), &buf)
	if err != nil {
		return nil, "", err
	}
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return buf.Bytes(), ctype, nil
}

// Pull streams a device file to a local path. Unless overwrite is
// set, an existing local file is an error.
func (d *Device) Pull(ctx context.Context, path, localPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return fmt.Errorf("fleet: %s already exists", localPath)
		}
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := d.c.rest.Download(ctx, d.fsPath(path), f); err != nil {
		os.Remove(localPath)
		return err
	}
	return nil
}

// PushData writes bytes to a device file. An existing remote file is
// replaced only when overwrite is set.
func (d *Device) PushData(ctx context.Context, path string, data []byte, overwrite bool) error {
	if err := d.checkWritable(); err != nil {
		return err
	}

	exists, err := d.c.rest.Exists(ctx, d.fsPath(path))
	if err != nil {
		return err
	}
	method := http.MethodPost
	if exists {
		if !overwrite {
			return fmt.Errorf("fleet: device file %s already exists", path)
		}
		method = http.MethodPut
	}
	return d.c.rest.Upload(ctx, method, d.fsPath(path), data)
}

// Push uploads a local file to a device path.
func (d *Device) Push(ctx context.Context, localPath, path string, overwrite bool) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return d.PushData(ctx, path, data, overwrite)
}

// RemoveFile deletes a device file.
func (d *Device) RemoveFile(ctx context.Context, path string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	resp, err := d.c.rest.Do(ctx, d.fsPath(path), nil, rest.WithMethod(http.MethodDelete))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return rest.CheckStatus(resp, d.fsPath(path))
}
