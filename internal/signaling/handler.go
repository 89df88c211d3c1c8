package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-sfu/gateway/internal/mediarouter"
	"github.com/aura-sfu/gateway/internal/registry"
	"github.com/aura-sfu/gateway/internal/room"
	"github.com/aura-sfu/gateway/internal/session"
)

var (
	ErrRoomIDRequired    = errors.New("signaling: roomId required")
	ErrClientIDRequired  = errors.New("signaling: clientId required")
	ErrUnknownTransport  = errors.New("signaling: unknown transportId")
	ErrNotOwner          = errors.New("signaling: transport not owned by this session")
	ErrBadTransportType  = errors.New("signaling: type must be \"send\" or \"recv\"")
)

// Disconnector runs the full disconnect cascade for a client id (spec
// §4.5.1): close every owned resource, broadcast producerClosed/
// clientDisconnected while the client is still a room member, then leave.
// The Lifecycle Supervisor implements it; the handler also calls it to
// resolve a joinRoom clientId collision (SPEC_FULL.md Open Question 3:
// superseding join).
type Disconnector interface {
	DisconnectClient(clientID string)
}

// TransportWatcher registers a freshly created transport with the
// unconnected-transport reaper (spec §4.5.2).
type TransportWatcher interface {
	Watch(transportID uuid.UUID, ownerClientID string, createdAt time.Time)
}

// Handler is the Signaling Protocol Handler (spec §4.4): one instance shared
// by every connection, dispatching each verb against the shared Resource
// Registry, Room Registry, and MediaRouter.
type Handler struct {
	Router       *mediarouter.Router
	Resources    *registry.Registry
	Rooms        *room.Registry
	Disconnector Disconnector
	Watcher      TransportWatcher
	Logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session // clientID -> live session, for collision detection and screen-producer lookups
}

// NewHandler wires a Handler against the shared, process-wide components.
func NewHandler(router *mediarouter.Router, resources *registry.Registry, rooms *room.Registry, disconnector Disconnector, watcher TransportWatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Router:       router,
		Resources:    resources,
		Rooms:        rooms,
		Disconnector: disconnector,
		Watcher:      watcher,
		Logger:       logger,
		sessions:     make(map[string]*session.Session),
	}
}

// GetRtpCapabilities implements the getRtpCapabilities verb: the process-wide
// codec set clients must intersect against before producing or consuming.
func (h *Handler) GetRtpCapabilities() mediarouter.RtpCapabilities {
	return h.Router.RtpCapabilities()
}

// JoinRoom implements the joinRoom verb (spec §6, §4.4). Precondition: the
// session has not yet joined. A clientId already active elsewhere is
// superseded: its prior session is fully disconnected before this one is
// admitted (SPEC_FULL.md Open Question 3).
func (h *Handler) JoinRoom(sess *session.Session, emitter room.Emitter, req JoinRoomRequest) (JoinRoomAck, error) {
	if req.RoomID == "" {
		return JoinRoomAck{}, ErrRoomIDRequired
	}
	if req.ClientID == "" {
		return JoinRoomAck{}, ErrClientIDRequired
	}

	h.mu.Lock()
	if _, exists := h.sessions[req.ClientID]; exists && h.Disconnector != nil {
		h.mu.Unlock()
		h.Disconnector.DisconnectClient(req.ClientID)
		h.mu.Lock()
	}
	h.sessions[req.ClientID] = sess
	h.mu.Unlock()

	if err := sess.Join(req.ClientID, req.RoomID); err != nil {
		return JoinRoomAck{}, err
	}

	h.Rooms.Join(req.RoomID, req.ClientID, emitter)

	views := h.Resources.ListProducers(req.ClientID)
	producers := make([]ProducerSummary, 0, len(views))
	for _, v := range views {
		producers = append(producers, ProducerSummary{
			ProducerID: v.ProducerID,
			ClientID:   v.ClientID,
			Kind:       v.Kind,
			AppData:    AppData{Source: v.Source},
		})
	}

	h.Rooms.Broadcast(req.RoomID, EventClientJoined, ClientJoinedEvent{ClientID: req.ClientID}, req.ClientID)

	return JoinRoomAck{Producers: producers}, nil
}

// CreateTransport implements the createTransport verb: allocates a send or
// recv WebRTC transport on the MediaRouter, registers it, and schedules it
// for the unconnected-transport reaper.
func (h *Handler) CreateTransport(sess *session.Session, req CreateTransportRequest) (CreateTransportAck, error) {
	snap := sess.Snapshot()
	if snap.State == session.StateNew || snap.State == session.StateClosed {
		return CreateTransportAck{}, session.ErrNotJoined
	}

	var direction mediarouter.Direction
	switch req.Type {
	case "send":
		if snap.SendTransportID != nil {
			return CreateTransportAck{}, session.ErrTransportExists
		}
		direction = mediarouter.DirectionSend
	case "recv":
		if snap.RecvTransportID != nil {
			return CreateTransportAck{}, session.ErrTransportExists
		}
		direction = mediarouter.DirectionRecv
	default:
		return CreateTransportAck{}, ErrBadTransportType
	}

	t, err := h.Router.CreateTransport(direction)
	if err != nil {
		return CreateTransportAck{}, err
	}

	rec := h.Resources.PutTransport(snap.ClientID, t)

	if direction == mediarouter.DirectionSend {
		err = sess.SetSendTransport(rec.ID)
	} else {
		err = sess.SetRecvTransport(rec.ID)
	}
	if err != nil {
		// The precondition check above already rejects the common case; this
		// only fires if a second createTransport for the same direction
		// raced it. Tear down the transport we just allocated instead of
		// leaking it in the registry.
		h.Resources.CloseTransport(rec.ID)
		t.Close()
		return CreateTransportAck{}, err
	}

	if h.Watcher != nil {
		h.Watcher.Watch(rec.ID, snap.ClientID, rec.CreatedAt)
	}

	opts, err := t.Options()
	if err != nil {
		return CreateTransportAck{}, err
	}
	return CreateTransportAck{TransportOptions: opts}, nil
}

// ConnectTransport implements the connectTransport verb: completes the
// ICE/DTLS handshake for a transport this session owns.
func (h *Handler) ConnectTransport(sess *session.Session, req ConnectTransportRequest) error {
	rec, ok := h.Resources.GetTransport(req.TransportID)
	if !ok {
		return ErrUnknownTransport
	}
	if rec.OwnerID != sess.Snapshot().ClientID {
		return ErrNotOwner
	}

	media, ok := h.Router.Transport(req.TransportID)
	if !ok {
		return ErrUnknownTransport
	}
	if err := media.Connect(req.DtlsParameters); err != nil {
		return err
	}
	h.Resources.MarkTransportConnected(req.TransportID)
	return nil
}

// Produce implements the produce verb. For appData.source == "screen" it
// runs the screen-share arbitration sequence (spec §5, I5): lock the room,
// close every other screen producer already live among room members, then
// produce — all while the room lock excludes a racing produce/
// closeAllScreenShares pair from interleaving.
func (h *Handler) Produce(sess *session.Session, req ProduceRequest) (ProduceAck, error) {
	snap := sess.Snapshot()
	if snap.State == session.StateNew || snap.State == session.StateClosed {
		return ProduceAck{}, session.ErrNotJoined
	}
	rec, ok := h.Resources.GetTransport(req.TransportID)
	if !ok || rec.OwnerID != snap.ClientID {
		return ProduceAck{}, ErrUnknownTransport
	}

	media, ok := h.Router.Transport(req.TransportID)
	if !ok {
		return ProduceAck{}, ErrUnknownTransport
	}

	var unlock func()
	if req.AppData.Source == registry.SourceScreen {
		unlock = h.Rooms.LockRoom(snap.RoomID)
		defer unlock()
		h.closeOtherScreenShares(snap.RoomID, snap.ClientID)
	}

	producer, err := media.Produce(req.Kind, req.RtpParameters, mustMarshal(req.AppData))
	if err != nil {
		return ProduceAck{}, err
	}

	r := h.Resources.PutProducer(snap.ClientID, req.TransportID, req.AppData.Source, producer)

	if req.AppData.Source == registry.SourceScreen {
		sess.SetScreenProducer(r.ID)
	}

	h.Rooms.Broadcast(snap.RoomID, EventNewProducer, NewProducerEvent{
		ProducerID: r.ID,
		ClientID:   snap.ClientID,
		Kind:       r.Kind,
		AppData:    req.AppData,
	}, snap.ClientID)

	return ProduceAck{ProducerID: r.ID}, nil
}

// closeOtherScreenShares closes every live screen producer owned by a
// member of roomID other than excludeClientID. Called with the room's
// arbitration lock held.
func (h *Handler) closeOtherScreenShares(roomID, excludeClientID string) int {
	var candidates []uuid.UUID
	for _, clientID := range h.Rooms.Members(roomID) {
		candidates = append(candidates, h.Resources.ListClientProducerIDs(clientID)...)
	}
	screens := h.Resources.ListRoomScreenProducers(candidates, excludeClientID)
	for _, p := range screens {
		h.Resources.CloseProducerCascade(p.ID)
		if sess, ok := h.sessionOf(p.OwnerID); ok {
			sess.ClearScreenProducer(p.ID)
		}
		h.Rooms.Broadcast(roomID, EventProducerClosed, ProducerClosedEvent{ProducerID: p.ID}, "")
	}
	return len(screens)
}

// CloseAllScreenShares implements the closeAllScreenShares verb directly
// (a client may invoke it pre-emptively rather than relying on produce's
// implicit arbitration).
func (h *Handler) CloseAllScreenShares(sess *session.Session, req CloseAllScreenSharesRequest) (CloseAllScreenSharesAck, error) {
	snap := sess.Snapshot()
	if snap.State == session.StateNew || snap.State == session.StateClosed {
		return CloseAllScreenSharesAck{}, session.ErrNotJoined
	}
	unlock := h.Rooms.LockRoom(snap.RoomID)
	defer unlock()
	n := h.closeOtherScreenShares(snap.RoomID, snap.ClientID)
	return CloseAllScreenSharesAck{ClosedCount: n}, nil
}

// Consume implements the consume verb: creates a consumer on a recv
// transport this session owns, for any live producer the router knows; the
// producer's room is not checked.
func (h *Handler) Consume(sess *session.Session, req ConsumeRequest) (ConsumeAck, error) {
	snap := sess.Snapshot()
	if snap.State == session.StateNew || snap.State == session.StateClosed {
		return ConsumeAck{}, session.ErrNotJoined
	}
	rec, ok := h.Resources.GetTransport(req.TransportID)
	if !ok || rec.OwnerID != snap.ClientID {
		return ConsumeAck{}, ErrUnknownTransport
	}
	media, ok := h.Router.Transport(req.TransportID)
	if !ok {
		return ConsumeAck{}, ErrUnknownTransport
	}

	consumer, err := media.Consume(req.ProducerID, req.RtpCapabilities)
	if err != nil {
		return ConsumeAck{}, err
	}

	r := h.Resources.PutConsumer(snap.ClientID, req.TransportID, consumer)

	return ConsumeAck{
		ConsumerID:    r.ID,
		ProducerID:    r.ProducerID,
		Kind:          r.Kind,
		RtpParameters: r.RtpParameters,
	}, nil
}

// GetStats implements the supplemented getStats verb (SPEC_FULL.md): a
// coarse, room-scoped snapshot useful for an admin panel or smoke test,
// never exposed as a spec-required verb but harmless to ship alongside it.
func (h *Handler) GetStats(sess *session.Session) GetStatsAck {
	snap := sess.Snapshot()
	members := h.Rooms.Members(snap.RoomID)
	var transports, producers, consumers int
	for _, clientID := range members {
		transports += len(h.Resources.ListClientTransports(clientID))
		producers += len(h.Resources.ListOwnedProducers(clientID))
		consumers += len(h.Resources.ListOwnedConsumers(clientID))
	}
	return GetStatsAck{
		Transports:  transports,
		Producers:   producers,
		Consumers:   consumers,
		RoomMembers: len(members),
	}
}

// ScreenProducerOf returns the screen-share producer id currently recorded
// on clientID's live session, if any. The Lifecycle Supervisor uses this to
// broadcast producerClosed for an active screen share as part of the
// disconnect cascade (spec §4.5.1(c)).
func (h *Handler) ScreenProducerOf(clientID string) (uuid.UUID, bool) {
	sess, ok := h.sessionOf(clientID)
	if !ok {
		return uuid.UUID{}, false
	}
	id := sess.Snapshot().ScreenProducerID
	if id == nil {
		return uuid.UUID{}, false
	}
	return *id, true
}

func (h *Handler) sessionOf(clientID string) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[clientID]
	return sess, ok
}

// Forget removes a clientId from the collision-detection set. Called by the
// Lifecycle Supervisor once a disconnect cascade completes.
func (h *Handler) Forget(clientID string) {
	h.mu.Lock()
	delete(h.sessions, clientID)
	h.mu.Unlock()
}
