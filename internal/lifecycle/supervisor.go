// Package lifecycle implements the Lifecycle Supervisor (spec §4.5): the
// disconnect cascade, the unconnected-transport reaper, and the single
// goroutine draining the MediaRouter's cascade event channel.
package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-sfu/gateway/internal/mediarouter"
	"github.com/aura-sfu/gateway/internal/registry"
	"github.com/aura-sfu/gateway/internal/room"
	"github.com/aura-sfu/gateway/internal/signaling"
)

// DefaultUnconnectedTimeout is the spec §4.5.2 default: a transport that
// never completes connectTransport within this window is reaped.
const DefaultUnconnectedTimeout = 30 * time.Minute

const reaperInterval = 1 * time.Minute

type watchEntry struct {
	clientID  string
	createdAt time.Time
}

// Supervisor owns the two background lifecycle mechanisms and the single
// consumer of the MediaRouter event stream. One instance per process.
type Supervisor struct {
	Router    *mediarouter.Router
	Resources *registry.Registry
	Rooms     *room.Registry
	Handler   *signaling.Handler
	Logger    *zap.Logger

	UnconnectedTimeout time.Duration

	watchMu sync.Mutex
	watched map[uuid.UUID]watchEntry

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Supervisor wired to the process-wide components.
func New(router *mediarouter.Router, resources *registry.Registry, rooms *room.Registry, handler *signaling.Handler, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		Router:             router,
		Resources:          resources,
		Rooms:              rooms,
		Handler:            handler,
		Logger:             logger,
		UnconnectedTimeout: DefaultUnconnectedTimeout,
		watched:            make(map[uuid.UUID]watchEntry),
		stop:               make(chan struct{}),
	}
}

// Start launches the event-consumption goroutine and the reaper ticker.
// Call once, typically from main.
func (s *Supervisor) Start() {
	s.wg.Add(2)
	go s.consumeEvents()
	go s.runReaper()
}

// Stop halts both background goroutines and waits for them to exit.
func (s *Supervisor) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Watch registers a freshly created transport with the unconnected-transport
// reaper (spec §4.5.2). Implements signaling.TransportWatcher.
func (s *Supervisor) Watch(transportID uuid.UUID, ownerClientID string, createdAt time.Time) {
	s.watchMu.Lock()
	s.watched[transportID] = watchEntry{clientID: ownerClientID, createdAt: createdAt}
	s.watchMu.Unlock()
}

func (s *Supervisor) unwatch(transportID uuid.UUID) {
	s.watchMu.Lock()
	delete(s.watched, transportID)
	s.watchMu.Unlock()
}

// consumeEvents is the single goroutine reading mediarouter.Router.Events()
// (spec §4.1: "exactly one consumer"). Each event drives the registry
// cleanup and room broadcast that must follow a MediaRouter-side close,
// regardless of whether that close originated from a client request, a
// cascade, or a DTLS failure pion observed on its own.
func (s *Supervisor) consumeEvents() {
	defer s.wg.Done()
	for ev := range s.Router.Events() {
		switch ev.Type {
		case mediarouter.EventTransportClosed:
			s.unwatch(ev.TransportID)
			s.Resources.CloseTransport(ev.TransportID)

		case mediarouter.EventProducerClosed:
			rec, ok := s.Resources.GetProducer(ev.ProducerID)
			s.Resources.CloseProducer(ev.ProducerID)
			if !ok {
				continue
			}
			roomID, ok := s.Rooms.RoomOf(rec.OwnerID)
			if !ok {
				continue
			}
			s.Rooms.Broadcast(roomID, signaling.EventProducerClosed, signaling.ProducerClosedEvent{ProducerID: ev.ProducerID}, "")

		case mediarouter.EventConsumerClosed:
			s.Resources.CloseConsumer(ev.ConsumerID)

		case mediarouter.EventDtlsStateChange:
			s.Logger.Debug("lifecycle: dtls state change",
				zap.String("transport_id", ev.TransportID.String()),
				zap.String("state", ev.DtlsState),
			)
		}
	}
}

// runReaper periodically closes any watched transport that never completed
// connectTransport within UnconnectedTimeout (spec §4.5.2).
func (s *Supervisor) runReaper() {
	defer s.wg.Done()
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Supervisor) reapOnce() {
	deadline := time.Now().Add(-s.UnconnectedTimeout)

	s.watchMu.Lock()
	var stale []uuid.UUID
	for id, entry := range s.watched {
		if entry.createdAt.Before(deadline) {
			stale = append(stale, id)
		}
	}
	s.watchMu.Unlock()

	for _, id := range stale {
		rec, ok := s.Resources.GetTransport(id)
		if !ok || rec.Connected {
			s.unwatch(id)
			continue
		}
		media, ok := s.Router.Transport(id)
		if !ok {
			s.unwatch(id)
			continue
		}
		s.Logger.Info("lifecycle: reaping unconnected transport", zap.String("transport_id", id.String()))
		media.Close() // cascades to EventTransportClosed, which unwatches and cleans the registry
	}
}

// DisconnectClient runs the full disconnect cascade in the order spec
// §4.5.1 requires: look up the room, close every resource the client owns,
// broadcast producerClosed for its screen share (if any) and
// clientDisconnected to the rest of the room, and only then remove it from
// the Room Registry — closeClient's producer-close cascade resolves
// Rooms.RoomOf(clientID) to broadcast its own events, so the client must
// still be a room member while it runs. Forgetting the clientId from the
// signaling handler's collision-detection set happens last. Implements
// signaling.Disconnector. Idempotent: calling it for a clientID with no
// room/resources is a no-op.
func (s *Supervisor) DisconnectClient(clientID string) {
	roomID, inRoom := s.Rooms.RoomOf(clientID)

	var screenProducerID *uuid.UUID
	if s.Handler != nil {
		if id, ok := s.Handler.ScreenProducerOf(clientID); ok {
			screenProducerID = &id
		}
	}

	s.Resources.CloseClient(clientID)

	if inRoom {
		if screenProducerID != nil {
			s.Rooms.Broadcast(roomID, signaling.EventProducerClosed, signaling.ProducerClosedEvent{ProducerID: *screenProducerID}, "")
		}
		s.Rooms.Broadcast(roomID, signaling.EventClientDisconnected, signaling.ClientDisconnectedEvent{ClientID: clientID}, clientID)
		s.Rooms.Leave(roomID, clientID)
	}

	if s.Handler != nil {
		s.Handler.Forget(clientID)
	}
}
