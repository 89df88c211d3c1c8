package mediarouter

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Consumer is a downstream media stream delivered to a subscribing client,
// keyed to exactly one producer. Created unpaused per spec §4.4.
type Consumer struct {
	id            uuid.UUID
	producerID    uuid.UUID
	transportID   uuid.UUID
	kind          MediaKind
	rtpParameters RtpParameters

	sender *webrtc.RTPSender
	router *Router

	paused atomic.Bool
	closed atomic.Bool
}

func (c *Consumer) ID() uuid.UUID                { return c.id }
func (c *Consumer) ProducerID() uuid.UUID        { return c.producerID }
func (c *Consumer) TransportID() uuid.UUID       { return c.transportID }
func (c *Consumer) Kind() MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() RtpParameters { return c.rtpParameters }
func (c *Consumer) Paused() bool                 { return c.paused.Load() }
func (c *Consumer) Closed() bool                 { return c.closed.Load() }

// Pause/Resume are exposed for completeness (spec §4.1 data model lists
// `paused` on the Consumer entity); the signaling layer does not currently
// expose a verb for them, as spec §6 names no such verb.
func (c *Consumer) Pause()  { c.paused.Store(true) }
func (c *Consumer) Resume() { c.paused.Store(false) }

// Close stops the underlying RTP sender. Called either directly (transport
// close) or via closeFromProducer (producer close cascade); both paths emit
// EventConsumerClosed exactly once.
func (c *Consumer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	_ = c.sender.Stop()
	if c.router != nil {
		c.router.emit(Event{Type: EventConsumerClosed, ConsumerID: c.id, ProducerID: c.producerID, TransportID: c.transportID})
	}
}

// closeFromProducer is the producer-close cascade path: same idempotent
// Close, kept as a separate name so the cascade origin is clear at call
// sites and in traces.
func (c *Consumer) closeFromProducer() {
	c.Close()
}
