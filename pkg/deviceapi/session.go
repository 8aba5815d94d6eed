// Package deviceapi implements the client side of the device API: a
// persistent duplex channel to a running device agent that multiplexes
// many concurrent call and event exchanges over one connection,
// correlated by message id.
package deviceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCallTimeout bounds the wait for a call response. Event
// streams have no timeout.
const DefaultCallTimeout = 5 * time.Second

// queueDepth is the per-exchange inbound buffer. Event endpoints can
// burst faster than the consumer drains; the router blocks only when a
// single exchange falls this far behind.
const queueDepth = 64

// Session is a live device API handle. It owns the transport, the
// router goroutine, the capability table, and the pending-exchange
// map. All methods are safe for concurrent use.
type Session struct {
	transport   Transport
	log         zerolog.Logger
	callTimeout time.Duration

	// Populated once during Open, read-only afterward.
	version   string
	endpoints map[string]Endpoint

	nextID atomic.Int64

	pendMu  sync.Mutex
	pending map[int64]chan Response

	sendMu sync.Mutex // serializes request writes

	running      atomic.Bool
	down         chan struct{} // closed once the session is dead
	downOnce     sync.Once
	downErr      error
	routerCancel context.CancelFunc
	routerDone   chan struct{}
	closeOnce    sync.Once
}

// Option configures a Session at open time.
type Option func(*Session)

// WithCallTimeout overrides the default response wait for calls.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) { s.callTimeout = d }
}

// WithLogger attaches a logger for router diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// Open starts a session over the given transport: it launches the
// router, issues the bootstrap call, and populates the capability
// table. If discovery fails the transport is closed and no session is
// returned.
func Open(ctx context.Context, transport Transport, opts ...Option) (*Session, error) {
	s := &Session{
		transport:   transport,
		log:         zerolog.Nop(),
		callTimeout: DefaultCallTimeout,
		pending:     make(map[int64]chan Response),
		down:        make(chan struct{}),
		routerDone:  make(chan struct{}),
		// The bootstrap endpoint is the only entry known before
		// discovery.
		endpoints: map[string]Endpoint{
			bootstrapEndpoint: {Name: bootstrapEndpoint, ID: 0, Kind: KindCall},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.running.Store(true)
	rctx, cancel := context.WithCancel(context.Background())
	s.routerCancel = cancel
	go s.route(rctx)

	raw, err := s.Call(ctx, bootstrapEndpoint, nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("deviceapi: bootstrap call: %w", err)
	}
	var info callInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		s.Close()
		return nil, fmt.Errorf("deviceapi: bootstrap response: %w", err)
	}
	table, err := endpointTable(info)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.endpoints = table
	s.version = info.VersionString
	return s, nil
}

// route drains the transport and delivers responses to the exchange
// matching their message id. It runs until close or disconnect.
func (s *Session) route(ctx context.Context) {
	defer close(s.routerDone)

	for {
		resp, err := s.transport.Receive(ctx)
		if err != nil {
			if !s.running.Load() || ctx.Err() != nil {
				// Close was requested; exit silently.
				return
			}
			s.log.Error().Err(err).Msg("device api connection lost")
			s.fail(ErrConnectionClosed)
			return
		}

		if resp.MessageID == nil {
			continue
		}
		id := *resp.MessageID

		s.pendMu.Lock()
		ch, ok := s.pending[id]
		s.pendMu.Unlock()

		if !ok {
			// Protocol anomaly, not a session failure. A late response
			// for a timed-out call or a closed stream lands here.
			s.log.Warn().Int64("message_id", id).Int("status_code", resp.StatusCode).
				Msg("response for unknown message id")
			continue
		}

		// Delivery can block when an abandoned exchange's buffer fills;
		// Close cancels ctx before joining the router, so this select
		// must never wait on the consumer alone.
		select {
		case ch <- resp:
		case <-ctx.Done():
			return
		case <-s.down:
			return
		}
	}
}

// fail marks the session dead with the given error and wakes every
// blocked call and event stream. First caller wins.
func (s *Session) fail(err error) {
	s.downOnce.Do(func() {
		s.downErr = err
		close(s.down)
	})
}

// lookup validates an endpoint name and kind before anything is sent.
func (s *Session) lookup(name string, want Kind) (Endpoint, error) {
	if !s.running.Load() {
		return Endpoint{}, ErrSessionClosed
	}
	ep, ok := s.endpoints[name]
	if !ok {
		return Endpoint{}, &InvalidEndpointError{Name: name, Want: want}
	}
	if ep.Kind != want {
		return Endpoint{}, &InvalidEndpointError{Name: name, Want: want, Got: ep.Kind}
	}
	return ep, nil
}

// send allocates a correlation id, registers the pending exchange, and
// writes the request. The exchange is registered before the write so a
// fast response cannot beat it.
func (s *Session) send(ctx context.Context, ep Endpoint, args map[string]any) (int64, chan Response, error) {
	if args == nil {
		args = map[string]any{}
	}

	id := s.nextID.Add(1) - 1
	ch := make(chan Response, queueDepth)

	s.pendMu.Lock()
	s.pending[id] = ch
	s.pendMu.Unlock()

	s.sendMu.Lock()
	err := s.transport.Send(ctx, Request{EndpointID: ep.ID, Payload: args, MessageID: id})
	s.sendMu.Unlock()

	if err != nil {
		s.discard(id)
		return 0, nil, err
	}
	return id, ch, nil
}

// discard removes a pending exchange. Exchanges are created by the
// sender and removed by the consumer, never by the router.
func (s *Session) discard(id int64) {
	s.pendMu.Lock()
	delete(s.pending, id)
	s.pendMu.Unlock()
}

// CallOption adjusts a single call.
type CallOption func(*callSettings)

type callSettings struct {
	timeout time.Duration
}

// WithTimeout overrides the session call timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(cs *callSettings) { cs.timeout = d }
}

// Call invokes a call endpoint and returns the parsed result. The
// agent wraps call results in a JSON string; Call returns the inner
// document. Use CallRaw for the payload verbatim.
func (s *Session) Call(ctx context.Context, name string, args map[string]any, opts ...CallOption) (json.RawMessage, error) {
	raw, err := s.CallRaw(ctx, name, args, opts...)
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// CallRaw invokes a call endpoint and returns the response payload
// exactly as received.
func (s *Session) CallRaw(ctx context.Context, name string, args map[string]any, opts ...CallOption) (json.RawMessage, error) {
	settings := callSettings{timeout: s.callTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	ep, err := s.lookup(name, KindCall)
	if err != nil {
		return nil, err
	}

	id, ch, err := s.send(ctx, ep, args)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(settings.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		s.discard(id)
		if resp.StatusCode != StatusOK {
			return nil, &DeviceError{Status: resp.StatusCode, Payload: resp.Payload}
		}
		return resp.Payload, nil
	case <-timer.C:
		s.discard(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, name, settings.timeout)
	case <-ctx.Done():
		s.discard(id)
		return nil, ctx.Err()
	case <-s.down:
		s.discard(id)
		return nil, s.downErr
	}
}

// Event opens an event endpoint and returns the response stream. The
// request is sent once; responses arrive until the agent sends the
// end-of-stream status or the stream is closed.
func (s *Session) Event(ctx context.Context, name string, args map[string]any) (*EventStream, error) {
	ep, err := s.lookup(name, KindEvent)
	if err != nil {
		return nil, err
	}
	id, ch, err := s.send(ctx, ep, args)
	if err != nil {
		return nil, err
	}
	return &EventStream{session: s, name: name, id: id, ch: ch}, nil
}

// Version reports the agent version string from the bootstrap response.
func (s *Session) Version() string { return s.version }

// Calls lists the call endpoint names, sorted.
func (s *Session) Calls() []string { return names(s.endpoints, KindCall) }

// Events lists the event endpoint names, sorted.
func (s *Session) Events() []string { return names(s.endpoints, KindEvent) }

// Endpoints returns the full capability table, ordered by numeric id.
func (s *Session) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Err reports the session-fatal error, if any. It returns nil while
// the session is healthy.
func (s *Session) Err() error {
	select {
	case <-s.down:
		return s.downErr
	default:
		return nil
	}
}

// Close shuts the session down: stops the router, closes the
// transport, and fails every in-flight exchange. Safe to call multiple
// times and from failure handlers.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.running.Store(false)
		s.routerCancel()
		s.transport.Close()
		<-s.routerDone
		s.fail(ErrConnectionClosed)
	})
	return nil
}
