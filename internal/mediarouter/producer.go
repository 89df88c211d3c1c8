package mediarouter

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Producer is an upstream media stream published by a client into the
// router. It tracks every consumer keyed to it so its close cascades to
// them; it does not read RTP from its receiver or forward it to those
// consumers.
type Producer struct {
	id            uuid.UUID
	transportID   uuid.UUID
	kind          MediaKind
	rtpParameters RtpParameters
	appData       AppData
	router        *Router

	receiver *webrtc.RTPReceiver

	closed atomic.Bool

	mu        sync.Mutex
	consumers map[uuid.UUID]*Consumer
}

func (p *Producer) ID() uuid.UUID             { return p.id }
func (p *Producer) TransportID() uuid.UUID    { return p.transportID }
func (p *Producer) Kind() MediaKind           { return p.kind }
func (p *Producer) RtpParameters() RtpParameters { return p.rtpParameters }
func (p *Producer) AppData() AppData          { return p.appData }
func (p *Producer) Closed() bool              { return p.closed.Load() }

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	p.consumers[c.id] = c
}

// Close stops the underlying RTP receiver and cascades close to every
// consumer keyed to this producer, emitting one EventProducerClosed and one
// EventConsumerClosed per dependent consumer.
func (p *Producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = nil
	p.mu.Unlock()

	_ = p.receiver.Stop()

	for _, c := range consumers {
		c.closeFromProducer()
	}

	p.router.emit(Event{Type: EventProducerClosed, ProducerID: p.id, TransportID: p.transportID})
}
