package mediarouter

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType enumerates the asynchronous events the router emits. The
// Lifecycle Supervisor is the single consumer of these; it applies the
// corresponding registry cleanup under its own locking discipline.
type EventType string

const (
	// EventTransportClosed fires when a transport's DTLS/ICE layer closes,
	// whether by explicit Close(), remote DTLS alert, or ICE failure.
	EventTransportClosed EventType = "transport-close"
	// EventProducerClosed fires when a producer closes; forwarded to every
	// consumer keyed to it.
	EventProducerClosed EventType = "producer-close"
	// EventConsumerClosed fires once when a consumer closes, whether its own
	// transport closed or its producer's close cascaded to it.
	EventConsumerClosed EventType = "consumer-close"
	// EventDtlsStateChange fires on every DTLS transport state transition.
	EventDtlsStateChange EventType = "dtls-state-change"
)

// Event is one router-emitted asynchronous notification.
type Event struct {
	Type        EventType
	TransportID uuid.UUID
	ProducerID  uuid.UUID
	ConsumerID  uuid.UUID
	DtlsState   string
}

// eventBufferSize bounds the router's event channel. Consumption happens in
// one dedicated supervisor goroutine so this should drain quickly; sized
// generously to absorb bursts from a cascading close.
const eventBufferSize = 256

func (r *Router) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("mediarouter: event channel full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("transport_id", ev.TransportID.String()),
		)
	}
}
