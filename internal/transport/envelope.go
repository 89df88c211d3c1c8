// Package transport is the WebSocket Client Session transport (spec §4.4,
// §6): one goroutine pair per connection reading/writing the signaling
// envelope and driving the Signaling Protocol Handler.
package transport

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single WebSocket message shape in both directions.
//
//   - Client -> server request: {requestId, verb, data}
//   - Server -> client ack:     {requestId, data} or {requestId, error}
//   - Server -> client event:   {event, data}
//
// RequestID is chosen by the client and echoed back verbatim, giving the
// client its own request/ack correlation without a second message type.
type Envelope struct {
	RequestID string          `json:"requestId,omitempty"`
	Verb      string          `json:"verb,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func ack(requestID string, payload interface{}) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{RequestID: requestID, Data: raw}
}

func ackError(requestID string, err error) Envelope {
	return Envelope{RequestID: requestID, Error: err.Error()}
}

func event(name string, payload interface{}) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{Event: name, Data: raw}
}

func errUnknownVerb(verb string) error {
	return fmt.Errorf("transport: unknown verb %q", verb)
}
