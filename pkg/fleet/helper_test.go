package fleet

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/subtide/iotkit/pkg/rest"
)

// fakeAPI is a minimal management service: handlers are registered by
// API path and every request is recorded.
type fakeAPI struct {
	t        *testing.T
	mux      *http.ServeMux
	server   *httptest.Server
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   []byte
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{t: t, mux: http.NewServeMux()}

	record := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		query := map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		api.requests = append(api.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  query,
			Body:   body,
		})
		api.mux.ServeHTTP(w, r)
	})

	api.server = httptest.NewServer(record)
	t.Cleanup(api.server.Close)
	return api
}

// handle registers a JSON responder for an API path.
func (a *fakeAPI) handle(path string, result any) {
	a.mux.HandleFunc("/"+path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			a.t.Errorf("encode response for %s: %v", path, err)
		}
	})
}

// handleFunc registers a raw handler for an API path.
func (a *fakeAPI) handleFunc(path string, fn http.HandlerFunc) {
	a.mux.HandleFunc("/"+path, fn)
}

// lastRequest returns the most recent request for a path.
func (a *fakeAPI) lastRequest(path string) (recordedRequest, bool) {
	for i := len(a.requests) - 1; i >= 0; i-- {
		if a.requests[i].Path == "/"+path {
			return a.requests[i], true
		}
	}
	return recordedRequest{}, false
}

func (a *fakeAPI) countRequests(path string) int {
	n := 0
	for _, r := range a.requests {
		if r.Path == "/"+path {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := newFakeAPI(t)
	rc := rest.New(api.server.URL, rest.WithToken("test-token"), rest.WithRetry(rest.NoRetry()))
	return New(rc), api
}
