package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-sfu/gateway/internal/mediarouter"
)

func newTestRouter(t *testing.T) *mediarouter.Router {
	t.Helper()
	r, err := mediarouter.NewRouter(mediarouter.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestPutTransport_IndexedByOwner(t *testing.T) {
	router := newTestRouter(t)
	media, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)

	reg := New()
	rec := reg.PutTransport("alice", media)

	assert.Equal(t, media.ID(), rec.ID)
	assert.Equal(t, mediarouter.DirectionSend, rec.Direction)

	got, ok := reg.GetTransport(rec.ID)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	list := reg.ListClientTransports("alice")
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	assert.Empty(t, reg.ListClientTransports("bob"))
}

func TestMarkTransportConnected(t *testing.T) {
	router := newTestRouter(t)
	media, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)

	reg := New()
	rec := reg.PutTransport("alice", media)
	assert.False(t, rec.Connected)

	reg.MarkTransportConnected(rec.ID)
	got, ok := reg.GetTransport(rec.ID)
	require.True(t, ok)
	assert.True(t, got.Connected)
}

func TestListProducers_ExcludesOwnerAndClosed(t *testing.T) {
	router := newTestRouter(t)
	transport, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)

	reg := New()
	producer := mediarouter.NewProducerForTesting(transport.ID(), mediarouter.KindVideo, mediarouter.RtpParameters{}, nil)
	rec := reg.PutProducer("alice", transport.ID(), SourceCamera, producer)

	assert.Empty(t, reg.ListProducers("alice"), "owner itself must not see its own producer in the view")

	views := reg.ListProducers("bob")
	require.Len(t, views, 1)
	assert.Equal(t, rec.ID, views[0].ProducerID)
	assert.Equal(t, SourceCamera, views[0].Source)

	reg.CloseProducer(rec.ID)
	assert.Empty(t, reg.ListProducers("bob"), "closed producers must not appear")
}

func TestCloseClient_ClearsAllOwnedResources(t *testing.T) {
	router := newTestRouter(t)
	send, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)

	reg := New()
	transportRec := reg.PutTransport("alice", send)
	producer := mediarouter.NewProducerForTesting(transportRec.ID, mediarouter.KindAudio, mediarouter.RtpParameters{}, nil)
	producerRec := reg.PutProducer("alice", transportRec.ID, SourceCamera, producer)

	reg.CloseClient("alice")

	assert.Empty(t, reg.ListClientTransports("alice"))
	_, ok := reg.GetProducer(producerRec.ID)
	assert.False(t, ok, "producer record must be gone after CloseClient")
	_, ok = reg.GetTransport(transportRec.ID)
	assert.False(t, ok)
}

func TestListRoomScreenProducers_FiltersBySourceAndOwner(t *testing.T) {
	router := newTestRouter(t)
	send, err := router.CreateTransport(mediarouter.DirectionSend)
	require.NoError(t, err)

	reg := New()
	transportRec := reg.PutTransport("alice", send)

	screen := mediarouter.NewProducerForTesting(transportRec.ID, mediarouter.KindVideo, mediarouter.RtpParameters{}, nil)
	screenRec := reg.PutProducer("alice", transportRec.ID, SourceScreen, screen)

	camera := mediarouter.NewProducerForTesting(transportRec.ID, mediarouter.KindVideo, mediarouter.RtpParameters{}, nil)
	reg.PutProducer("alice", transportRec.ID, SourceCamera, camera)

	candidates := reg.ListClientProducerIDs("alice")
	require.Len(t, candidates, 2)

	screens := reg.ListRoomScreenProducers(candidates, "bob")
	require.Len(t, screens, 1)
	assert.Equal(t, screenRec.ID, screens[0].ID)

	assert.Empty(t, reg.ListRoomScreenProducers(candidates, "alice"), "excluding the owner hides its own screen producer")
}

