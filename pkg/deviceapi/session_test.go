package deviceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestOpen_PopulatesCapabilityTable(t *testing.T) {
	s, _ := openTestSession(t,
		[]string{"get_call_info", "ping", "get_log"},
		[]string{"call", "call", "event"})

	if s.Version() != "1.0" {
		t.Errorf("Version = %q, want %q", s.Version(), "1.0")
	}
	if got, want := s.Calls(), []string{"get_call_info", "ping"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Calls = %v, want %v", got, want)
	}
	if got, want := s.Events(), []string{"get_log"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Events = %v, want %v", got, want)
	}

	eps := s.Endpoints()
	if len(eps) != 3 {
		t.Fatalf("Endpoints: got %d entries, want 3", len(eps))
	}
	if eps[1].Name != "ping" || eps[1].ID != 1 || eps[1].Kind != KindCall {
		t.Errorf("endpoint 1 = %+v, want ping/1/call", eps[1])
	}
	if eps[2].Name != "get_log" || eps[2].ID != 2 || eps[2].Kind != KindEvent {
		t.Errorf("endpoint 2 = %+v, want get_log/2/event", eps[2])
	}
}

func TestOpen_MalformedBootstrap(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []string
		types     []string
	}{
		{"unequal lengths", []string{"a", "b"}, []string{"call"}},
		{"unknown kind label", []string{"a"}, []string{"stream"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport().withBootstrap("1.0", tt.endpoints, tt.types)
			s, err := Open(context.Background(), ft)
			if err == nil {
				s.Close()
				t.Fatal("Open succeeded, want error")
			}
			// Open must fail atomically: the transport is released.
			select {
			case <-ft.closed:
			default:
				t.Error("transport left open after failed Open")
			}
		})
	}
}

func TestCall_Success(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	ft.respond(func(req Request) {
		ft.pushOK(req.MessageID, `"pong"`)
	})

	got, err := s.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(got) != `"pong"` {
		t.Errorf("Call result = %s, want %q", got, `"pong"`)
	}

	// The bootstrap request consumed message id 0; ping continues the
	// monotonic counter at 1 against endpoint id 1.
	sent := ft.sentRequests()
	if len(sent) != 2 {
		t.Fatalf("sent %d requests, want 2", len(sent))
	}
	if sent[1].EndpointID != 1 || sent[1].MessageID != 1 {
		t.Errorf("ping request = endpoint %d message %d, want 1/1", sent[1].EndpointID, sent[1].MessageID)
	}
	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after call, want 0", pendingCount(s))
	}
}

func TestCall_DeviceError(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	ft.respond(func(req Request) {
		ft.pushStatus(req.MessageID, 2, "bad arg")
	})

	_, err := s.Call(context.Background(), "ping", map[string]any{"n": 1})
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Call error = %v, want *DeviceError", err)
	}
	if devErr.Status != 2 {
		t.Errorf("Status = %d, want 2", devErr.Status)
	}
	if errorText(devErr.Payload) != "bad arg" {
		t.Errorf("Payload = %q, want %q", errorText(devErr.Payload), "bad arg")
	}
	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after device error, want 0", pendingCount(s))
	}
}

func TestCall_Timeout(t *testing.T) {
	s, _ := openTestSession(t,
		[]string{"get_call_info", "slow"},
		[]string{"call", "call"})

	// No responder: the call never gets an answer.
	_, err := s.Call(context.Background(), "slow", nil, WithTimeout(30*time.Millisecond))
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("Call error = %v, want ErrCallTimeout", err)
	}
	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after timeout, want 0", pendingCount(s))
	}
}

func TestCall_InvalidEndpoint(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping", "get_log"},
		[]string{"call", "call", "event"})

	before := len(ft.sentRequests())

	tests := []struct {
		name string
		run  func() error
	}{
		{"call on event endpoint", func() error {
			_, err := s.Call(context.Background(), "get_log", nil)
			return err
		}},
		{"event on call endpoint", func() error {
			_, err := s.Event(context.Background(), "ping", nil)
			return err
		}},
		{"unknown name", func() error {
			_, err := s.Call(context.Background(), "reboot", nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var epErr *InvalidEndpointError
			if !errors.As(err, &epErr) {
				t.Fatalf("error = %v, want *InvalidEndpointError", err)
			}
		})
	}

	// Kind and name checks happen before anything is written.
	if after := len(ft.sentRequests()); after != before {
		t.Errorf("transport saw %d new requests, want 0", after-before)
	}
}

func TestConcurrentCalls_InterleavedResponses(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	// Hold every request and answer them in reverse arrival order so
	// responses interleave across exchanges.
	var reqMu sync.Mutex
	var held []Request
	release := make(chan struct{})
	ft.respond(func(req Request) {
		reqMu.Lock()
		held = append(held, req)
		n := len(held)
		reqMu.Unlock()
		if n == 2 {
			close(release)
		}
	})

	go func() {
		<-release
		reqMu.Lock()
		defer reqMu.Unlock()
		for i := len(held) - 1; i >= 0; i-- {
			req := held[i]
			ft.pushOK(req.MessageID, fmt.Sprintf(`"reply-%d"`, req.MessageID))
		}
	}()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := s.Call(context.Background(), "ping", map[string]any{"seq": i})
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = string(raw)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
	}
	// Each caller must receive the reply tagged with its own id, even
	// though delivery order was reversed.
	if results[0] == results[1] {
		t.Errorf("both callers got %q; responses were cross-routed", results[0])
	}
	for i, res := range results {
		var got string
		if err := json.Unmarshal([]byte(res), &got); err != nil {
			t.Fatalf("call %d result %q: %v", i, res, err)
		}
		if len(got) < 6 || got[:6] != "reply-" {
			t.Errorf("call %d got %q, want reply-<id>", i, got)
		}
	}
}

func TestRouter_UnknownMessageIDIgnored(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	// A response for an id nobody is waiting on is dropped without
	// disturbing the session.
	stray := int64(999)
	ft.push(Response{MessageID: &stray, StatusCode: StatusOK, Payload: json.RawMessage(`"{}"`)})

	ft.respond(func(req Request) {
		ft.pushOK(req.MessageID, `"pong"`)
	})
	if _, err := s.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Call after stray response: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("session error = %v, want nil", s.Err())
	}
}

func TestRouter_MissingMessageIDIgnored(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	ft.push(Response{StatusCode: StatusOK, Payload: json.RawMessage(`"{}"`)})

	ft.respond(func(req Request) {
		ft.pushOK(req.MessageID, `"pong"`)
	})
	if _, err := s.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Call after id-less message: %v", err)
	}
}

func TestSession_UnexpectedDisconnect(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "slow"},
		[]string{"call", "call"})

	done := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), "slow", nil, WithTimeout(5*time.Second))
		done <- err
	}()

	// Give the call a moment to register, then drop the transport out
	// from under the session.
	waitFor(t, func() bool { return pendingCount(s) == 1 })
	ft.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("blocked call got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked call never unblocked after disconnect")
	}

	if !errors.Is(s.Err(), ErrConnectionClosed) {
		t.Errorf("session error = %v, want ErrConnectionClosed", s.Err())
	}
}

func TestSession_CallAfterClose(t *testing.T) {
	s, _ := openTestSession(t,
		[]string{"get_call_info", "ping"},
		[]string{"call", "call"})

	s.Close()
	s.Close() // idempotent

	if _, err := s.Call(context.Background(), "ping", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Call after close = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Event(context.Background(), "ping", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Event after close = %v, want ErrSessionClosed", err)
	}
}

func TestEvent_SequenceUntilTerminal(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "get_log"},
		[]string{"call", "event"})

	ft.respond(func(req Request) {
		ft.pushOK(req.MessageID, `"a"`)
		ft.pushOK(req.MessageID, `"b"`)
		ft.pushStatus(req.MessageID, StatusEndOfStream, "")
	})

	stream, err := s.Event(context.Background(), "get_log", nil)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}

	var got []string
	for {
		raw, err := stream.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			t.Fatalf("decode event %s: %v", raw, err)
		}
		got = append(got, v)
	}

	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	// Exhausted streams stay exhausted.
	if _, err := stream.Next(context.Background()); err != io.EOF {
		t.Errorf("Next after EOF = %v, want io.EOF", err)
	}
	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after stream end, want 0", pendingCount(s))
	}

	// Exactly one request opened the stream.
	sent := ft.sentRequests()
	if len(sent) != 2 { // bootstrap + event open
		t.Errorf("sent %d requests, want 2", len(sent))
	}
}

func TestEvent_DeviceErrorMidStream(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "get_log"},
		[]string{"call", "event"})

	ft.respond(func(req Request) {
		ft.pushOK(req.MessageID, `"a"`)
		ft.pushStatus(req.MessageID, 7, "sensor fault")
	})

	stream, err := s.Event(context.Background(), "get_log", nil)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}

	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("first Next: %v", err)
	}

	_, err = stream.Next(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Next error = %v, want *DeviceError", err)
	}
	if devErr.Status != 7 {
		t.Errorf("Status = %d, want 7", devErr.Status)
	}

	// The failure is sticky.
	if _, err := stream.Next(context.Background()); !errors.As(err, &devErr) {
		t.Errorf("Next after failure = %v, want the same *DeviceError", err)
	}
	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after stream failure, want 0", pendingCount(s))
	}
}

func TestEvent_CloseCancelsExchange(t *testing.T) {
	s, _ := openTestSession(t,
		[]string{"get_call_info", "get_log"},
		[]string{"call", "event"})

	stream, err := s.Event(context.Background(), "get_log", nil)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if pendingCount(s) != 1 {
		t.Fatalf("pending exchanges = %d after open, want 1", pendingCount(s))
	}

	stream.Close()
	stream.Close() // idempotent

	if pendingCount(s) != 0 {
		t.Errorf("pending exchanges = %d after Close, want 0", pendingCount(s))
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next after Close = %v, want ErrStreamClosed", err)
	}
}

func TestEvent_SessionCloseUnblocksStream(t *testing.T) {
	s, _ := openTestSession(t,
		[]string{"get_call_info", "get_log"},
		[]string{"call", "event"})

	stream, err := s.Event(context.Background(), "get_log", nil)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		done <- err
	}()

	// Nothing will ever arrive; closing the session is the cleanup path.
	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("blocked Next = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still blocked after session close")
	}
}

func TestSessionClose_AbandonedStreamBacklog(t *testing.T) {
	s, ft := openTestSession(t,
		[]string{"get_call_info", "tail"},
		[]string{"call", "event"})

	if _, err := s.Event(context.Background(), "tail", nil); err != nil {
		t.Fatalf("Event: %v", err)
	}

	// Abandon the stream and let the agent keep producing well past the
	// exchange buffer, so the router ends up blocked on delivery.
	for i := 0; i < queueDepth+2; i++ {
		ft.pushOK(1, `"entry"`)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung behind an abandoned stream's backlog")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
