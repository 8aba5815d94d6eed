package deviceapi

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// fakeTransport implements Transport over in-memory channels with an
// optional scripted responder.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []Request
	onSend func(Request) // invoked for every accepted Send

	incoming  chan Response
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan Response, 64),
		closed:   make(chan struct{}),
	}
}

// withBootstrap installs a responder that answers the bootstrap call
// with the given endpoint names and kind labels. Other requests are
// left for the test to answer.
func (ft *fakeTransport) withBootstrap(version string, endpoints, types []string) *fakeTransport {
	prev := ft.onSend
	ft.onSend = func(req Request) {
		if req.EndpointID == 0 {
			inner, _ := json.Marshal(callInfo{
				VersionString: version,
				Endpoints:     endpoints,
				EndpointTypes: types,
			})
			ft.pushOK(req.MessageID, string(inner))
			return
		}
		if prev != nil {
			prev(req)
		}
	}
	return ft
}

// respond installs a responder for non-bootstrap requests.
func (ft *fakeTransport) respond(fn func(Request)) *fakeTransport {
	prev := ft.onSend
	ft.onSend = func(req Request) {
		if req.EndpointID == 0 && prev != nil {
			prev(req)
			return
		}
		fn(req)
	}
	return ft
}

func (ft *fakeTransport) Send(_ context.Context, req Request) error {
	select {
	case <-ft.closed:
		return ErrTransportClosed
	default:
	}

	ft.mu.Lock()
	ft.sent = append(ft.sent, req)
	fn := ft.onSend
	ft.mu.Unlock()

	if fn != nil {
		fn(req)
	}
	return nil
}

func (ft *fakeTransport) Receive(ctx context.Context) (Response, error) {
	select {
	case resp := <-ft.incoming:
		return resp, nil
	case <-ft.closed:
		return Response{}, ErrTransportClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (ft *fakeTransport) Close() error {
	ft.closeOnce.Do(func() { close(ft.closed) })
	return nil
}

// pushOK delivers a success response whose payload is the given inner
// JSON, string-wrapped the way the agent encodes results.
func (ft *fakeTransport) pushOK(id int64, inner string) {
	wrapped, _ := json.Marshal(inner)
	ft.push(Response{MessageID: &id, StatusCode: StatusOK, Payload: wrapped})
}

// pushStatus delivers a response with an arbitrary status code and raw
// payload.
func (ft *fakeTransport) pushStatus(id int64, status int, payload string) {
	var raw json.RawMessage
	if payload != "" {
		raw, _ = json.Marshal(payload)
	} else {
		raw = json.RawMessage("null")
	}
	ft.push(Response{MessageID: &id, StatusCode: status, Payload: raw})
}

func (ft *fakeTransport) push(resp Response) {
	ft.incoming <- resp
}

// sentRequests returns a snapshot of everything written so far.
func (ft *fakeTransport) sentRequests() []Request {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]Request, len(ft.sent))
	copy(out, ft.sent)
	return out
}

// openTestSession opens a session against a fake agent exposing the
// given endpoints beyond the bootstrap one.
func openTestSession(t *testing.T, endpoints, types []string) (*Session, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport().withBootstrap("1.0", endpoints, types)
	s, err := Open(context.Background(), ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, ft
}

// pendingCount reports how many exchanges the session still tracks.
func pendingCount(s *Session) int {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return len(s.pending)
}
