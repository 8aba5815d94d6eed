package deviceapi

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Receive and Send once the
// underlying connection is gone. The session router uses it to tell an
// orderly shutdown from an unexpected disconnect.
var ErrTransportClosed = errors.New("deviceapi: transport closed")

// Transport abstracts the duplex message channel to a device agent.
// Exactly one goroutine (the session router) calls Receive; Send may be
// called concurrently and implementations must serialize writes.
type Transport interface {
	// Send writes one request envelope.
	Send(ctx context.Context, req Request) error
	// Receive blocks until the next response envelope arrives. It
	// returns an error wrapping ErrTransportClosed when the connection
	// is closed, locally or remotely.
	Receive(ctx context.Context) (Response, error)
	// Close tears down the connection. Safe to call multiple times.
	Close() error
}
