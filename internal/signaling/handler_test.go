package signaling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-sfu/gateway/internal/mediarouter"
	"github.com/aura-sfu/gateway/internal/registry"
	"github.com/aura-sfu/gateway/internal/room"
	"github.com/aura-sfu/gateway/internal/session"
)

type fakeEmitter struct {
	events []string
}

func (f *fakeEmitter) Emit(event string, payload interface{}) {
	f.events = append(f.events, event)
}

type fakeDisconnector struct {
	calledWith []string
}

func (f *fakeDisconnector) DisconnectClient(clientID string) {
	f.calledWith = append(f.calledWith, clientID)
}

type fakeWatcher struct {
	watched []uuid.UUID
}

func (f *fakeWatcher) Watch(transportID uuid.UUID, ownerClientID string, createdAt time.Time) {
	f.watched = append(f.watched, transportID)
}

func newTestHandler(t *testing.T) (*Handler, *fakeDisconnector, *fakeWatcher) {
	t.Helper()
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	disconnector := &fakeDisconnector{}
	watcher := &fakeWatcher{}
	h := NewHandler(router, registry.New(), room.New(nil), disconnector, watcher, nil)
	return h, disconnector, watcher
}

func TestJoinRoom_RequiresRoomAndClientID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())
	emitter := &fakeEmitter{}

	_, err := h.JoinRoom(sess, emitter, JoinRoomRequest{ClientID: "alice"})
	assert.ErrorIs(t, err, ErrRoomIDRequired)

	_, err = h.JoinRoom(sess, emitter, JoinRoomRequest{RoomID: "room1"})
	assert.ErrorIs(t, err, ErrClientIDRequired)
}

func TestJoinRoom_AddsToRoomAndBroadcasts(t *testing.T) {
	h, _, _ := newTestHandler(t)

	sessA := session.New(uuid.New())
	emitterA := &fakeEmitter{}
	_, err := h.JoinRoom(sessA, emitterA, JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	sessB := session.New(uuid.New())
	emitterB := &fakeEmitter{}
	ack, err := h.JoinRoom(sessB, emitterB, JoinRoomRequest{RoomID: "room1", ClientID: "bob"})
	require.NoError(t, err)

	assert.Empty(t, ack.Producers, "no producers exist yet")
	assert.ElementsMatch(t, []string{"alice", "bob"}, h.Rooms.Members("room1"))
	assert.Contains(t, emitterA.events, EventClientJoined, "alice should be notified of bob joining")
	assert.Empty(t, emitterB.events, "the joining client itself is excluded from its own clientJoined broadcast")
}

func TestJoinRoom_CollisionSupersedesPriorSession(t *testing.T) {
	h, disconnector, _ := newTestHandler(t)

	sess1 := session.New(uuid.New())
	_, err := h.JoinRoom(sess1, &fakeEmitter{}, JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	sess2 := session.New(uuid.New())
	_, err = h.JoinRoom(sess2, &fakeEmitter{}, JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, disconnector.calledWith, "a clientId already active must be disconnected before the new join is admitted")
}

func TestCreateTransport_RequiresJoinedSession(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())

	_, err := h.CreateTransport(sess, CreateTransportRequest{Type: "send"})
	assert.ErrorIs(t, err, session.ErrNotJoined)
}

func TestCreateTransport_RejectsBadType(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())
	require.NoError(t, sess.Join("alice", "room1"))

	_, err := h.CreateTransport(sess, CreateTransportRequest{Type: "bogus"})
	assert.ErrorIs(t, err, ErrBadTransportType)
}

func TestCreateTransport_AllocatesAndWatches(t *testing.T) {
	h, _, watcher := newTestHandler(t)
	sess := session.New(uuid.New())
	require.NoError(t, sess.Join("alice", "room1"))

	ack, err := h.CreateTransport(sess, CreateTransportRequest{Type: "send"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ack.TransportOptions.ID)
	assert.True(t, sess.HasSendTransport())
	assert.Len(t, watcher.watched, 1)

	recs := h.Resources.ListClientTransports("alice")
	require.Len(t, recs, 1)
	assert.Equal(t, ack.TransportOptions.ID, recs[0].ID)
}

func TestCreateTransport_SecondSendTransportRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())
	require.NoError(t, sess.Join("alice", "room1"))

	_, err := h.CreateTransport(sess, CreateTransportRequest{Type: "send"})
	require.NoError(t, err)

	_, err = h.CreateTransport(sess, CreateTransportRequest{Type: "send"})
	assert.ErrorIs(t, err, session.ErrTransportExists)

	assert.Len(t, h.Resources.ListClientTransports("alice"), 1, "the rejected second createTransport must not allocate or register an orphaned transport")
}

func TestConnectTransport_RejectsUnknownAndNonOwner(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())
	require.NoError(t, sess.Join("alice", "room1"))

	err := h.ConnectTransport(sess, ConnectTransportRequest{TransportID: uuid.New()})
	assert.ErrorIs(t, err, ErrUnknownTransport)

	other := session.New(uuid.New())
	require.NoError(t, other.Join("bob", "room1"))
	ack, err := h.CreateTransport(other, CreateTransportRequest{Type: "send"})
	require.NoError(t, err)

	err = h.ConnectTransport(sess, ConnectTransportRequest{TransportID: ack.TransportOptions.ID})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestGetStats_CountsRoomScopedResources(t *testing.T) {
	h, _, _ := newTestHandler(t)

	sessA := session.New(uuid.New())
	_, err := h.JoinRoom(sessA, &fakeEmitter{}, JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	_, err = h.CreateTransport(sessA, CreateTransportRequest{Type: "send"})
	require.NoError(t, err)

	stats := h.GetStats(sessA)
	assert.Equal(t, 1, stats.Transports)
	assert.Equal(t, 1, stats.RoomMembers)
}

func TestForget_RemovesFromCollisionSet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	sess := session.New(uuid.New())
	require.NoError(t, sess.Join("alice", "room1"))
	h.sessions["alice"] = sess

	h.Forget("alice")

	_, exists := h.sessions["alice"]
	assert.False(t, exists)
}

func TestScreenProducerOf_ReflectsLiveSessionAndClearsWhenArbitrated(t *testing.T) {
	h, _, _ := newTestHandler(t)

	_, ok := h.ScreenProducerOf("alice")
	assert.False(t, ok, "a client with no live session has no screen producer")

	sess := session.New(uuid.New())
	_, err := h.JoinRoom(sess, &fakeEmitter{}, JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	_, ok = h.ScreenProducerOf("alice")
	assert.False(t, ok, "joining alone doesn't set a screen producer")

	screenID := uuid.New()
	sess.SetScreenProducer(screenID)
	id, ok := h.ScreenProducerOf("alice")
	require.True(t, ok)
	assert.Equal(t, screenID, id)

	sess.ClearScreenProducer(screenID)
	_, ok = h.ScreenProducerOf("alice")
	assert.False(t, ok, "a cleared screen producer must no longer be reported")
}
