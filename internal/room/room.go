// Package room implements the Room Registry (spec §4.3): room id -> set of
// client ids, the reverse client->room index, membership, and best-effort
// broadcast fan-out.
package room

import (
	"sync"

	"go.uber.org/zap"
)

// Emitter delivers one outbound event to a single client's connection. It
// must not block the caller for long; the Client Session implementation
// queues onto a buffered channel, matching the teacher's Hub.SendToClient.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Registry is the process-wide room membership table.
type Registry struct {
	mu sync.RWMutex

	rooms      map[string]map[string]Emitter // roomID -> clientID -> emitter
	clientRoom map[string]string             // clientID -> roomID

	screenMu map[string]*sync.Mutex // roomID -> arbitration lock (spec §5)
	screenMuGuard sync.Mutex

	logger *zap.Logger
}

// New creates an empty room registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:      make(map[string]map[string]Emitter),
		clientRoom: make(map[string]string),
		screenMu:   make(map[string]*sync.Mutex),
		logger:     logger,
	}
}

// Join adds clientID to roomID, creating the room if it does not exist yet.
func (r *Registry) Join(roomID, clientID string, emitter Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Emitter)
		r.rooms[roomID] = members
	}
	members[clientID] = emitter
	r.clientRoom[clientID] = roomID
}

// Leave removes clientID from roomID. Destroys the room entry when it was
// the last member.
func (r *Registry) Leave(roomID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, clientID)
	delete(r.clientRoom, clientID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		r.screenMuGuard.Lock()
		delete(r.screenMu, roomID)
		r.screenMuGuard.Unlock()
	}
}

// Members returns the client ids currently in roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomOf returns the room a client currently belongs to, if any.
func (r *Registry) RoomOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.clientRoom[clientID]
	return roomID, ok
}

// BroadcastResult reports delivery outcome, making the "best-effort" fan-out
// the spec allows observable in tests (§9: "make the per-peer delivery
// failure observable in tests").
type BroadcastResult struct {
	Delivered int
	Dropped   int
}

// Broadcast delivers event/payload to every member of roomID except
// excludeClientID (pass "" to exclude no one). Delivery is best-effort: an
// emitter whose Emit panics or is nil is counted as dropped rather than
// aborting the fan-out for the rest of the room.
func (r *Registry) Broadcast(roomID, event string, payload interface{}, excludeClientID string) BroadcastResult {
	r.mu.RLock()
	members := make(map[string]Emitter, len(r.rooms[roomID]))
	for id, e := range r.rooms[roomID] {
		members[id] = e
	}
	r.mu.RUnlock()

	var result BroadcastResult
	for clientID, emitter := range members {
		if clientID == excludeClientID {
			continue
		}
		if r.deliver(emitter, event, payload) {
			result.Delivered++
		} else {
			result.Dropped++
		}
	}
	return result
}

func (r *Registry) deliver(emitter Emitter, event string, payload interface{}) (ok bool) {
	if emitter == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("room: dropped broadcast delivery", zap.Any("recover", rec))
			ok = false
		}
	}()
	emitter.Emit(event, payload)
	return true
}

// LockRoom returns the per-room mutex used to serialize the screen-share
// arbitration sequence (closeAllScreenShares followed by produce) per spec
// §5. Callers must Unlock via the returned unlock func.
func (r *Registry) LockRoom(roomID string) (unlock func()) {
	r.screenMuGuard.Lock()
	m, ok := r.screenMu[roomID]
	if !ok {
		m = &sync.Mutex{}
		r.screenMu[roomID] = m
	}
	r.screenMuGuard.Unlock()

	m.Lock()
	return m.Unlock
}
