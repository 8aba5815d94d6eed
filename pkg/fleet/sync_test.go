package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestSyncConfigs_PushesMatchingFiles(t *testing.T) {
	c, api := newTestClient(t)

	pushed := map[string]json.RawMessage{}
	api.handleFunc("iot/set_device_config", func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		pushed[r.URL.Query().Get("config_name")] = body
		if r.Method != http.MethodPut {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
		}
	})

	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("app.json", `{"rate": 10}`)
	write("net.json", `{"dhcp": true}`)
	write("notes.txt", "not a config")

	err := c.Device(3).SyncConfigs(context.Background(), dir, SyncOptions{})
	if err != nil {
		t.Fatalf("SyncConfigs: %v", err)
	}

	if len(pushed) != 2 {
		t.Fatalf("pushed %d configs, want 2: %v", len(pushed), pushed)
	}
	for _, name := range []string{"app", "net"} {
		if _, ok := pushed[name]; !ok {
			t.Errorf("config %q not pushed", name)
		}
	}
}

func TestSyncConfigs_RejectsInvalidJSON(t *testing.T) {
	c, api := newTestClient(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := c.Device(3).SyncConfigs(context.Background(), dir, SyncOptions{})
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if n := api.countRequests("iot/set_device_config"); n != 0 {
		t.Errorf("invalid file still pushed %d times", n)
	}
}
