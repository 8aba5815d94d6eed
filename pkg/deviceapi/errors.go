package deviceapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is the session-fatal error raised when the
	// transport drops while the session is still running. It is injected
	// into every in-flight call and event stream.
	ErrConnectionClosed = errors.New("deviceapi: connection closed")

	// ErrSessionClosed is returned by Call and Event after Close.
	ErrSessionClosed = errors.New("deviceapi: session closed")

	// ErrCallTimeout is returned when a call response does not arrive
	// within the call timeout. Event streams never time out.
	ErrCallTimeout = errors.New("deviceapi: call timed out")

	// ErrStreamClosed is returned by Next after the stream was
	// explicitly closed by the consumer.
	ErrStreamClosed = errors.New("deviceapi: event stream closed")
)

// InvalidEndpointError reports a call or event issued against an
// unknown endpoint name, or against a name of the wrong kind. It is
// raised locally, before anything is sent.
type InvalidEndpointError struct {
	Name string
	Want Kind // zero when the name is unknown entirely
	Got  Kind
}

func (e *InvalidEndpointError) Error() string {
	if e.Got == 0 {
		return fmt.Sprintf("deviceapi: unknown endpoint %q", e.Name)
	}
	return fmt.Sprintf("deviceapi: endpoint %q is a %s endpoint, not a %s endpoint", e.Name, e.Got, e.Want)
}

// DeviceError is an application-level failure reported by the device
// agent: a non-zero, non-terminal status code. The payload is carried
// verbatim; the remote side decides success and failure semantics.
type DeviceError struct {
	Status  int
	Payload json.RawMessage
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("deviceapi: device error (status %d): %s", e.Status, errorText(e.Payload))
}
