package mediarouter

import "github.com/google/uuid"

// NewProducerForTesting builds a Producer with no backing pion receiver, for
// use by other packages' tests (registry, signaling) that need a real
// *Producer value without driving an actual ICE/DTLS handshake. Never called
// by production code; callers must not call Close on the result since there
// is no receiver to stop — registry tests exercise registry-level closing
// instead.
func NewProducerForTesting(transportID uuid.UUID, kind MediaKind, rtpParameters RtpParameters, appData AppData) *Producer {
	return &Producer{
		id:            uuid.New(),
		transportID:   transportID,
		kind:          kind,
		rtpParameters: rtpParameters,
		appData:       appData,
		consumers:     make(map[uuid.UUID]*Consumer),
	}
}
