package rest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"github.com/subtide/iotkit/pkg/deviceapi"
)

// DialSocket opens a duplex device API transport at the given path.
func (c *Client) DialSocket(ctx context.Context, path string, query url.Values) (*deviceapi.WSTransport, error) {
	conn, err := c.DialRawSocket(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return deviceapi.NewWSTransport(conn), nil
}

// DialRawSocket opens a WebSocket connection at the given API path.
// The live event feed uses the raw connection; the device API wraps it
// in a transport.
func (c *Client) DialRawSocket(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	u := c.socketURL(path, query)

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + c.token},
		}
	}

	conn, _, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		return nil, fmt.Errorf("rest: dial %s: %w", path, err)
	}
	return conn, nil
}

// socketURL derives the ws(s) URL for an API path.
func (c *Client) socketURL(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
