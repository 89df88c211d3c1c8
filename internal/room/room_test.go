package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	events []string
	panic  bool
}

func (f *fakeEmitter) Emit(event string, payload interface{}) {
	if f.panic {
		panic("boom")
	}
	f.events = append(f.events, event)
}

func TestJoinAndMembers(t *testing.T) {
	reg := New(nil)
	a := &fakeEmitter{}
	b := &fakeEmitter{}

	reg.Join("room1", "alice", a)
	reg.Join("room1", "bob", b)

	members := reg.Members("room1")
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	roomID, ok := reg.RoomOf("alice")
	require.True(t, ok)
	assert.Equal(t, "room1", roomID)
}

func TestLeave_DestroysRoomOnLastMember(t *testing.T) {
	reg := New(nil)
	a := &fakeEmitter{}
	reg.Join("room1", "alice", a)

	reg.Leave("room1", "alice")

	assert.Empty(t, reg.Members("room1"))
	_, ok := reg.RoomOf("alice")
	assert.False(t, ok)
}

func TestBroadcast_ExcludesSenderAndCountsDelivery(t *testing.T) {
	reg := New(nil)
	a := &fakeEmitter{}
	b := &fakeEmitter{}
	c := &fakeEmitter{panic: true}

	reg.Join("room1", "alice", a)
	reg.Join("room1", "bob", b)
	reg.Join("room1", "carol", c)

	result := reg.Broadcast("room1", "newProducer", map[string]string{"x": "y"}, "alice")

	assert.Empty(t, a.events, "sender must be excluded")
	assert.Equal(t, []string{"newProducer"}, b.events)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Dropped, "a panicking emitter counts as dropped, not a fatal error")
}

func TestLockRoom_SerializesPerRoom(t *testing.T) {
	reg := New(nil)

	unlock := reg.LockRoom("room1")
	locked := make(chan struct{})
	go func() {
		u2 := reg.LockRoom("room1")
		close(locked)
		u2()
	}()

	select {
	case <-locked:
		t.Fatal("second LockRoom should not proceed while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("second LockRoom never acquired the lock after it was released")
	}
}
