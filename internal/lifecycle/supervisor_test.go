package lifecycle

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
	"github.com/aura-sfu/gateway/internal/signaling"
)

type fakeEmitter struct {
	events []string
}

func (f *fakeEmitter) Emit(event string, payload interface{}) {
	f.events = append(f.events, event)
}

func TestReapOnce_ClosesStaleUnconnectedTransport(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	resources := registry.New()
	sup := New(router, resources, room.New(nil), nil, nil)
	sup.UnconnectedTimeout = time.Minute

	tr, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)
	rec := resources.PutTransport("alice", tr)
	sup.Watch(rec.ID, "alice", time.Now().Add(-2*time.Minute))

	sup.reapOnce()

	assert.True(t, tr.Closed(), "a transport that never connected past the deadline must be reaped")
}

func TestReapOnce_SkipsConnectedTransport(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	resources := registry.New()
	sup := New(router, resources, room.New(nil), nil, nil)
	sup.UnconnectedTimeout = time.Minute

	tr, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)
	rec := resources.PutTransport("alice", tr)
	resources.MarkTransportConnected(rec.ID)
	sup.Watch(rec.ID, "alice", time.Now().Add(-2*time.Minute))

	sup.reapOnce()

	assert.False(t, tr.Closed(), "a connected transport must never be reaped")
	sup.watchMu.Lock()
	_, stillWatched := sup.watched[rec.ID]
	sup.watchMu.Unlock()
	assert.False(t, stillWatched, "a connected transport is unwatched directly since it will never need reaping again")
}

func TestReapOnce_IgnoresTransportsInsideTheWindow(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	resources := registry.New()
	sup := New(router, resources, room.New(nil), nil, nil)
	sup.UnconnectedTimeout = time.Hour

	tr, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)
	rec := resources.PutTransport("alice", tr)
	sup.Watch(rec.ID, "alice", time.Now())

	sup.reapOnce()

	assert.False(t, tr.Closed(), "a transport created just now is well within the timeout")
}

func TestConsumeEvents_ClosesRegistryOnTransportClosed(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)

	resources := registry.New()
	sup := New(router, resources, room.New(nil), nil, nil)

	tr, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)
	rec := resources.PutTransport("alice", tr)
	sup.Watch(rec.ID, "alice", time.Now())

	sup.wg.Add(1)
	go sup.consumeEvents()

	tr.Close()
	router.Close() // closes the events channel, which lets consumeEvents return

	require.Eventually(t, func() bool {
		_, ok := resources.GetTransport(rec.ID)
		return !ok
	}, time.Second, 10*time.Millisecond, "consumeEvents must remove the transport record once it observes the close event")

	sup.watchMu.Lock()
	_, stillWatched := sup.watched[rec.ID]
	sup.watchMu.Unlock()
	assert.False(t, stillWatched)
}

func TestDisconnectClient_LeavesRoomClosesResourcesAndBroadcasts(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	resources := registry.New()
	rooms := room.New(nil)
	sup := New(router, resources, rooms, nil, nil)

	bob := &fakeEmitter{}
	rooms.Join("room1", "bob", bob)
	rooms.Join("room1", "alice", &fakeEmitter{})

	tr, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)
	resources.PutTransport("alice", tr)

	sup.DisconnectClient("alice")

	_, stillInRoom := rooms.RoomOf("alice")
	assert.False(t, stillInRoom)
	assert.Empty(t, resources.ListClientTransports("alice"))
	assert.Contains(t, bob.events, signaling.EventClientDisconnected)
}

func TestDisconnectClient_BroadcastsScreenProducerClosedBeforeLeavingRoom(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	resources := registry.New()
	rooms := room.New(nil)
	handler := signaling.NewHandler(router, resources, rooms, nil, nil, nil)
	sup := New(router, resources, rooms, handler, nil)

	sess := session.New(uuid.New())
	_, err = handler.JoinRoom(sess, &fakeEmitter{}, signaling.JoinRoomRequest{RoomID: "room1", ClientID: "alice"})
	require.NoError(t, err)

	bob := &fakeEmitter{}
	rooms.Join("room1", "bob", bob)

	screenProducer := mediarouter.NewProducerForTesting(uuid.New(), mediarouter.KindVideo, mediarouter.RtpParameters{}, nil)
	rec := resources.PutProducer("alice", uuid.New(), registry.SourceScreen, screenProducer)
	sess.SetScreenProducer(rec.ID)

	sup.DisconnectClient("alice")

	require.Len(t, bob.events, 2, "the screen producer's close must be broadcast in addition to the disconnect itself")
	assert.Equal(t, signaling.EventProducerClosed, bob.events[0], "producerClosed must be broadcast before clientDisconnected, per the disconnect cascade ordering")
	assert.Equal(t, signaling.EventClientDisconnected, bob.events[1])

	_, stillInRoom := rooms.RoomOf("alice")
	assert.False(t, stillInRoom)
}

func TestDisconnectClient_IdempotentForUnknownClient(t *testing.T) {
	router, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(router.Close)

	sup := New(router, registry.New(), room.New(nil), nil, nil)

	assert.NotPanics(t, func() {
		sup.DisconnectClient("nobody")
	})
}
