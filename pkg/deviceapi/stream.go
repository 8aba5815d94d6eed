package deviceapi

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

type streamState int

const (
	streamActive streamState = iota
	streamDone               // terminal status received, clean stop
	streamFailed             // device error or connection loss
	streamClosed             // consumer called Close
)

// EventStream is the forward-only response sequence of one event
// endpoint. It is not restartable and not safe for concurrent Next
// calls; one goroutine consumes it.
//
// A stream that is abandoned without Close keeps its exchange
// registered and late responses pile up against it; always Close a
// stream that is not consumed to exhaustion.
type EventStream struct {
	session *Session
	name    string
	id      int64
	ch      chan Response

	mu    sync.Mutex
	state streamState
	err   error
}

// Name returns the endpoint name the stream was opened on.
func (st *EventStream) Name() string { return st.name }

// Next blocks for the next event and returns its parsed payload. It
// returns io.EOF after the agent ends the stream, a *DeviceError if
// the agent reports a failure, and ErrConnectionClosed if the session
// dies underneath it. There is no idle timeout; cancel via ctx or
// Close.
func (st *EventStream) Next(ctx context.Context) (json.RawMessage, error) {
	raw, err := st.NextRaw(ctx)
	if err != nil {
		return nil, err
	}
	return decodePayload(raw)
}

// NextRaw is Next without payload decoding.
func (st *EventStream) NextRaw(ctx context.Context) (json.RawMessage, error) {
	st.mu.Lock()
	switch st.state {
	case streamDone:
		st.mu.Unlock()
		return nil, io.EOF
	case streamFailed:
		err := st.err
		st.mu.Unlock()
		return nil, err
	case streamClosed:
		st.mu.Unlock()
		return nil, ErrStreamClosed
	}
	st.mu.Unlock()

	select {
	case resp := <-st.ch:
		switch {
		case resp.StatusCode == StatusEndOfStream:
			st.finish(streamDone, nil)
			return nil, io.EOF
		case resp.StatusCode != StatusOK:
			err := &DeviceError{Status: resp.StatusCode, Payload: resp.Payload}
			st.finish(streamFailed, err)
			return nil, err
		}
		return resp.Payload, nil
	case <-ctx.Done():
		// The exchange stays registered; the caller may resume with a
		// fresh context or Close the stream.
		return nil, ctx.Err()
	case <-st.session.down:
		err := st.session.downErr
		st.finish(streamFailed, err)
		return nil, err
	}
}

// Close stops consumption and removes the pending exchange. Responses
// still in flight for this stream become unroutable and are dropped by
// the router. Safe to call multiple times.
func (st *EventStream) Close() error {
	st.mu.Lock()
	if st.state != streamActive {
		st.mu.Unlock()
		return nil
	}
	st.state = streamClosed
	st.mu.Unlock()

	st.session.discard(st.id)
	return nil
}

func (st *EventStream) finish(state streamState, err error) {
	st.mu.Lock()
	st.state = state
	st.err = err
	st.mu.Unlock()

	st.session.discard(st.id)
}
