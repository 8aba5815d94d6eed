package deviceapi

import (
	"encoding/json"
	"fmt"
)

// Status codes carried by agent responses.
const (
	// StatusOK marks a successful response.
	StatusOK = 0
	// StatusEndOfStream terminates an event stream. It is a clean stop,
	// not an error.
	StatusEndOfStream = 0xFFFF
)

// Request is the outgoing message envelope for both calls and
// event-stream opens.
type Request struct {
	EndpointID int            `json:"endpoint_id"`
	Payload    map[string]any `json:"payload"`
	MessageID  int64          `json:"message_id"`
}

// Response is the incoming message envelope. MessageID is a pointer so
// the router can tell a missing correlation id apart from id zero.
type Response struct {
	MessageID  *int64          `json:"message_id"`
	StatusCode int             `json:"status_code"`
	Payload    json.RawMessage `json:"payload"`
}

// decodePayload unwraps a successful response payload. The agent
// encodes call results as a JSON string whose contents are themselves
// JSON, so a parsed read is two decode steps.
func decodePayload(raw json.RawMessage) (json.RawMessage, error) {
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("deviceapi: payload is not a JSON string: %w", err)
	}
	return json.RawMessage(inner), nil
}

// errorText renders an error payload for human consumption. Error
// payloads are usually plain JSON strings; anything else is passed
// through verbatim.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
