// Package session implements the per-connection Client Session state
// machine (spec §4.4): clientId, roomId, transport ids, screen-share
// producer id, and the NEW -> JOINED -> READY -> CLOSED transitions
// (HAS_SEND/HAS_RECV are recorded as the transport ids, not as states).
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is one state in the per-session state machine.
type State string

const (
	StateNew     State = "new"
	StateJoined  State = "joined"
	StateReady   State = "ready"
	StateClosed  State = "closed"
)

var (
	ErrAlreadyJoined   = errors.New("session: already joined a room")
	ErrNotJoined       = errors.New("session: not joined a room")
	ErrTransportExists = errors.New("session: transport of that direction already exists")
	ErrClosed          = errors.New("session: session closed")
)

// Session is the per-connection state owned by the connection's dispatch
// loop. All mutation goes through its methods, which hold its own mutex;
// there is one Session per live connection. The Signaling Protocol Handler
// also keeps it by clientId and may read it or clear its screen producer
// from other connections' goroutines.
type Session struct {
	mu sync.Mutex

	connectionID uuid.UUID
	clientID     string
	roomID       string
	state        State

	sendTransportID   *uuid.UUID
	recvTransportID   *uuid.UUID
	screenProducerID  *uuid.UUID
}

// New creates a NEW-state session for a freshly opened connection.
func New(connectionID uuid.UUID) *Session {
	return &Session{
		connectionID: connectionID,
		state:        StateNew,
	}
}

// ConnectionID returns the server-assigned connection id.
func (s *Session) ConnectionID() uuid.UUID { return s.connectionID }

// Snapshot is a consistent, race-free read of session fields, used for
// validating preconditions without holding the session lock across a
// MediaRouter call.
type Snapshot struct {
	ClientID         string
	RoomID           string
	State            State
	SendTransportID  *uuid.UUID
	RecvTransportID  *uuid.UUID
	ScreenProducerID *uuid.UUID
}

// Snapshot returns a copy of the session's current fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ClientID:         s.clientID,
		RoomID:           s.roomID,
		State:            s.state,
		SendTransportID:  s.sendTransportID,
		RecvTransportID:  s.recvTransportID,
		ScreenProducerID: s.screenProducerID,
	}
}

// Join transitions NEW -> JOINED, recording clientId/roomId. Illegal once
// already joined (spec §6 joinRoom precondition: "session not yet joined").
func (s *Session) Join(clientID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.state != StateNew {
		return ErrAlreadyJoined
	}
	s.clientID = clientID
	s.roomID = roomID
	s.state = StateJoined
	return nil
}

// SetSendTransport records the session's send-transport id. Illegal if one
// is already set (spec I2: at most one send-transport per session).
func (s *Session) SetSendTransport(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.state == StateNew {
		return ErrNotJoined
	}
	if s.sendTransportID != nil {
		return ErrTransportExists
	}
	s.sendTransportID = &id
	s.advanceToReadyLocked()
	return nil
}

// SetRecvTransport records the session's recv-transport id. Illegal if one
// is already set (spec I2: at most one recv-transport per session).
func (s *Session) SetRecvTransport(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.state == StateNew {
		return ErrNotJoined
	}
	if s.recvTransportID != nil {
		return ErrTransportExists
	}
	s.recvTransportID = &id
	s.advanceToReadyLocked()
	return nil
}

// advanceToReadyLocked moves JOINED -> READY once both transports exist.
// Connection (connectTransport) is tracked by the registry, not here; the
// state machine in spec §4.4 treats HAS_SEND/HAS_RECV/READY as allocation
// milestones, and produce/consume preconditions separately check
// Connected() on the registry record.
func (s *Session) advanceToReadyLocked() {
	if s.sendTransportID != nil && s.recvTransportID != nil {
		s.state = StateReady
	}
}

// SetScreenProducer records the session's active screen-share producer id.
func (s *Session) SetScreenProducer(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenProducerID = &id
}

// ClearScreenProducer clears the session's screen-share producer id, if it
// matches the one being cleared (guards against a stale clear racing a
// newer produce).
func (s *Session) ClearScreenProducer(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screenProducerID != nil && *s.screenProducerID == id {
		s.screenProducerID = nil
	}
}

// Close transitions to the terminal CLOSED state. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// HasSendTransport reports whether a send-transport id has been recorded on
// the session.
func (s *Session) HasSendTransport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendTransportID != nil
}
