package fleet

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestListFiles_PatternFilter(t *testing.T) {
	c, api := newTestClient(t)
	api.handle("iot/device/fs/3/var/log", []FileInfo{
		{Name: "app.log", Size: 100},
		{Name: "app.log.1", Size: 2000},
		{Name: "metrics.db", Size: 512},
	})

	files, err := c.Device(3).ListFiles(context.Background(), "var/log", "*.log*")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	if files[0].Name != "app.log" || files[1].Name != "app.log.1" {
		t.Errorf("files = %v", files)
	}

	req, _ := api.lastRequest("iot/device/fs/3/var/log")
	if req.Method != http.MethodGet || req.Query["dir_only"] != "true" {
		t.Errorf("request = %+v", req)
	}
}

func TestReadFile_StripsContentTypeParams(t *testing.T) {
	c, api := newTestClient(t)
	api.handleFunc("iot/device/fs/3/etc/app.conf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("interval=30\n"))
	})

	data, ctype, err := c.Device(3).ReadFile(context.Background(), "etc/app.conf")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "interval=30\n" {
		t.Errorf("data = %q", data)
	}
	if ctype != "text/plain" {
		t.Errorf("content type = %q", ctype)
	}
}

func TestPull_RefusesOverwrite(t *testing.T) {
	c, _ := newTestClient(t)

	local := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(local, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.Device(3).Pull(context.Background(), "data.bin", local, false)
	if err == nil {
		t.Fatal("expected overwrite refusal")
	}

	data, _ := os.ReadFile(local)
	if string(data) != "existing" {
		t.Errorf("local file clobbered: %q", data)
	}
}

func TestPull_WritesFile(t *testing.T) {
	c, api := newTestClient(t)
	payload := bytes.Repeat([]byte("x"), 4096)
	api.handleFunc("iot/device/fs/3/data.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	local := filepath.Join(t.TempDir(), "out.bin")
	if err := c.Device(3).Pull(context.Background(), "data.bin", local, false); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("pulled %d bytes, want %d", len(data), len(payload))
	}
}

func TestPushData_CreateThenReplace(t *testing.T) {
	c, api := newTestClient(t)

	exists := false
	var methods []string
	api.handleFunc("iot/device/fs/3/etc/app.conf", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			if !exists {
				http.Error(w, "not found", http.StatusNotFound)
			}
			return
		}
		methods = append(methods, r.Method)
		exists = true
	})

	d := c.Device(3)
	ctx := context.Background()

	if err := d.PushData(ctx, "etc/app.conf", []byte("a"), false); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := d.PushData(ctx, "etc/app.conf", []byte("b"), false); err == nil {
		t.Fatal("expected overwrite refusal on existing remote file")
	}
	if err := d.PushData(ctx, "etc/app.conf", []byte("b"), true); err != nil {
		t.Fatalf("overwriting push: %v", err)
	}

	want := []string{http.MethodPost, http.MethodPut}
	if len(methods) != 2 || methods[0] != want[0] || methods[1] != want[1] {
		t.Errorf("methods = %v, want %v", methods, want)
	}
}

func TestRemoveFile(t *testing.T) {
	c, api := newTestClient(t)
	api.handleFunc("iot/device/fs/3/tmp/junk", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
		}
	})

	if err := c.Device(3).RemoveFile(context.Background(), "tmp/junk"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
}
