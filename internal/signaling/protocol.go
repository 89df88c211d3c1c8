// Package signaling implements the Signaling Protocol Handler (spec §4.4):
// the verbs in spec §6, their preconditions, and the server-pushed events.
package signaling

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/aura-sfu/gateway/internal/mediarouter"
	"github.com/aura-sfu/gateway/internal/registry"
)

// Verb names. Bit-exact per spec §6 — this is the one canonical schema this
// repo ships; the source's second parallel gateway used different verb
// names and an appData.mediaType key instead of appData.source. Neither
// alias is accepted here (SPEC_FULL.md Open Question 1).
const (
	VerbGetRtpCapabilities  = "getRtpCapabilities"
	VerbJoinRoom            = "joinRoom"
	VerbCreateTransport     = "createTransport"
	VerbConnectTransport    = "connectTransport"
	VerbProduce             = "produce"
	VerbConsume             = "consume"
	VerbCloseAllScreenShares = "closeAllScreenShares"
	VerbGetStats            = "getStats"
)

// Event names pushed from server to client.
const (
	EventExistingProducers   = "existingProducers"
	EventNewProducer         = "newProducer"
	EventProducerClosed      = "producerClosed"
	EventClientJoined        = "clientJoined"
	EventClientDisconnected  = "clientDisconnected"
)

// AppData is the canonical producer metadata shape: source is the only
// recognized key.
type AppData struct {
	Source registry.MediaSource `json:"source"`
}

// JoinRoomRequest is the joinRoom verb's request payload.
type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// ProducerSummary is one entry of joinRoom's ack / newProducer's payload.
type ProducerSummary struct {
	ProducerID uuid.UUID             `json:"producerId"`
	ClientID   string                `json:"clientId"`
	Kind       mediarouter.MediaKind `json:"kind"`
	AppData    AppData               `json:"appData"`
}

// JoinRoomAck is the joinRoom verb's ack payload.
type JoinRoomAck struct {
	Producers []ProducerSummary `json:"producers"`
}

// CreateTransportRequest is the createTransport verb's request payload.
type CreateTransportRequest struct {
	Type string `json:"type"` // "send" | "recv"
}

// CreateTransportAck is the createTransport verb's ack payload.
type CreateTransportAck struct {
	TransportOptions mediarouter.TransportOptions `json:"transportOptions"`
}

// ConnectTransportRequest is the connectTransport verb's request payload.
type ConnectTransportRequest struct {
	TransportID    uuid.UUID                  `json:"transportId"`
	DtlsParameters mediarouter.DtlsParameters `json:"dtlsParameters"`
}

// ProduceRequest is the produce verb's request payload.
type ProduceRequest struct {
	TransportID   uuid.UUID                  `json:"transportId"`
	ClientID      string                     `json:"clientId"`
	Kind          mediarouter.MediaKind      `json:"kind"`
	RtpParameters mediarouter.RtpParameters  `json:"rtpParameters"`
	AppData       AppData                    `json:"appData"`
}

// ProduceAck is the produce verb's ack payload.
type ProduceAck struct {
	ProducerID uuid.UUID `json:"producerId"`
}

// ConsumeRequest is the consume verb's request payload.
type ConsumeRequest struct {
	TransportID     uuid.UUID                    `json:"transportId"`
	ProducerID      uuid.UUID                    `json:"producerId"`
	RtpCapabilities mediarouter.RtpCapabilities  `json:"rtpCapabilities"`
}

// ConsumeAck is the consume verb's ack payload.
type ConsumeAck struct {
	ConsumerID    uuid.UUID                 `json:"consumerId"`
	ProducerID    uuid.UUID                 `json:"producerId"`
	Kind          mediarouter.MediaKind     `json:"kind"`
	RtpParameters mediarouter.RtpParameters `json:"rtpParameters"`
}

// CloseAllScreenSharesRequest is the closeAllScreenShares verb's request
// payload.
type CloseAllScreenSharesRequest struct {
	ClientID string `json:"clientId"`
}

// CloseAllScreenSharesAck is the closeAllScreenShares verb's ack payload.
type CloseAllScreenSharesAck struct {
	ClosedCount int `json:"closedCount"`
}

// GetStatsAck is the optional getStats verb's ack payload (SPEC_FULL.md
// supplemented feature).
type GetStatsAck struct {
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
	RoomMembers int `json:"roomMembers"`
}

// NewProducerEvent is the newProducer push event payload.
type NewProducerEvent struct {
	ProducerID uuid.UUID             `json:"producerId"`
	ClientID   string                `json:"clientId"`
	Kind       mediarouter.MediaKind `json:"kind"`
	AppData    AppData               `json:"appData"`
}

// ProducerClosedEvent is the producerClosed push event payload.
type ProducerClosedEvent struct {
	ProducerID uuid.UUID `json:"producerId"`
}

// ClientJoinedEvent is the clientJoined push event payload.
type ClientJoinedEvent struct {
	ClientID string `json:"clientId"`
}

// ClientDisconnectedEvent is the clientDisconnected push event payload.
type ClientDisconnectedEvent struct {
	ClientID string `json:"clientId"`
}

// ErrorAck is the shape returned for any failed request (spec §7: "All
// per-request errors are reported as {error: string} in the ack").
type ErrorAck struct {
	Error string `json:"error"`
}

func mustMarshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
