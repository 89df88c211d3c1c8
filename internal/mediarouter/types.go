// Package mediarouter adapts the SFU media engine (pion/webrtc) behind the
// narrow contract the signaling layer needs: create a transport, connect it,
// produce and consume media on it. Everything ICE/DTLS/RTP-shaped lives here;
// nothing above this package imports pion/webrtc directly.
package mediarouter

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Direction is the direction of a transport from the client's perspective.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// MediaKind is the media kind of a producer/consumer.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// RtpCodecCapability describes one codec the router supports.
type RtpCodecCapability struct {
	Kind       MediaKind         `json:"kind"`
	MimeType   string            `json:"mimeType"`
	ClockRate  uint32            `json:"clockRate"`
	Channels   uint16            `json:"channels,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	PayloadType uint8            `json:"preferredPayloadType,omitempty"`
}

// RtpCapabilities is the router's advertised codec/feature set, stable for
// the process lifetime. Clients intersect their own capabilities against it
// before calling consume.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

// RtpCodecParameters is the negotiated codec a producer/consumer uses.
type RtpCodecParameters struct {
	MimeType    string            `json:"mimeType"`
	PayloadType uint8             `json:"payloadType"`
	ClockRate   uint32            `json:"clockRate"`
	Channels    uint16            `json:"channels,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// RtpEncodingParameters describes one RTP stream (simulcast layer) within a
// producer. This implementation passes these through without acting on
// simulcast/SVC policy, per spec Non-goals.
type RtpEncodingParameters struct {
	SSRC    uint32 `json:"ssrc,omitempty"`
	RID     string `json:"rid,omitempty"`
}

// RtpParameters is the RTP parameter set exchanged with produce/consume.
type RtpParameters struct {
	Mid        string                   `json:"mid,omitempty"`
	Codecs     []RtpCodecParameters     `json:"codecs"`
	Encodings  []RtpEncodingParameters  `json:"encodings,omitempty"`
}

// IceParameters are the ICE username fragment/password for a transport.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate is one gathered local ICE candidate.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// DtlsRole is the DTLS handshake role.
type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

// DtlsFingerprint is one certificate fingerprint.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters are the DTLS role and certificate fingerprints exchanged to
// establish the DTLS session on a transport.
type DtlsParameters struct {
	Role         DtlsRole          `json:"role"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportOptions is returned from createTransport: everything the client
// needs to establish ICE/DTLS with the router-allocated transport.
type TransportOptions struct {
	ID             uuid.UUID      `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// AppData is opaque application metadata attached to a producer. The router
// never interprets it; the signaling layer decodes the "source" field.
type AppData = json.RawMessage
