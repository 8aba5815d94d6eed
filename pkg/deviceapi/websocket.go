package deviceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
)

// WSTransport carries the device API over a WebSocket connection.
// Messages are text frames containing JSON envelopes.
type WSTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex // serializes frame writes
	closeOnce sync.Once
}

// NewWSTransport wraps an already-dialed WebSocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	// The device API exchanges small JSON envelopes, but file-backed
	// payloads can get large.
	conn.SetReadLimit(8 * 1024 * 1024)
	return &WSTransport{conn: conn}
}

// Send marshals the request and writes it as one text frame.
func (t *WSTransport) Send(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("deviceapi: marshal request: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// Receive blocks for the next frame and decodes it. Frames that do not
// parse as a response envelope are skipped; the agent may interleave
// log noise on the socket.
func (t *WSTransport) Receive(ctx context.Context) (Response, error) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		return resp, nil
	}
}

// Close sends a close frame and releases the connection. Safe to call
// multiple times.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}
