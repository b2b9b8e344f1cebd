package websocket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return hub
}

// settle waits until every operation enqueued so far has run
func settle(h *Hub) {
	h.RoomSize("")
}

func TestHub_BroadcastReachesMembersOnly(t *testing.T) {
	hub := startHub(t)
	a, b, outsider := newFakeConn(), newFakeConn(), newFakeConn()

	hub.Join(a, "c1")
	hub.Join(b, "c1")
	hub.Join(outsider, "c2")
	hub.Broadcast("c1", []byte(`{"event":"receiveMessage","data":{}}`))
	settle(hub)

	assert.Equal(t, []string{EventReceiveMessage}, a.Events())
	assert.Equal(t, []string{EventReceiveMessage}, b.Events())
	assert.Empty(t, outsider.Events())
	assert.Equal(t, 2, hub.RoomSize("c1"))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := startHub(t)
	a := newFakeConn()

	hub.Join(a, "c1")
	hub.Join(a, "c1")
	hub.Broadcast("c1", []byte(`{"event":"receiveMessage","data":{}}`))
	settle(hub)

	assert.Len(t, a.Events(), 1)
	assert.Equal(t, 1, hub.RoomSize("c1"))
}

func TestHub_MultiRoomMembership(t *testing.T) {
	hub := startHub(t)
	a := newFakeConn()

	hub.Join(a, "c1")
	hub.Join(a, "global")
	hub.Broadcast("c1", []byte(`{"event":"receiveMessage","data":1}`))
	hub.Broadcast("global", []byte(`{"event":"receiveMessage","data":2}`))
	settle(hub)

	assert.Len(t, a.Events(), 2)
	assert.Equal(t, []string{"c1", "global"}, hub.Rooms(a))
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := startHub(t)
	a, b := newFakeConn(), newFakeConn()

	hub.Join(a, "c1")
	hub.Join(b, "c1")
	hub.Leave(a, "c1")
	hub.Broadcast("c1", []byte(`{"event":"receiveMessage","data":{}}`))
	settle(hub)

	assert.Empty(t, a.Events())
	assert.Len(t, b.Events(), 1)
	assert.Equal(t, 1, hub.RoomSize("c1"))
}

func TestHub_LeaveNotJoinedIsNoop(t *testing.T) {
	hub := startHub(t)
	a, b := newFakeConn(), newFakeConn()

	hub.Join(b, "c1")
	hub.Leave(a, "c1")
	hub.Leave(a, "never")

	assert.Equal(t, 1, hub.RoomSize("c1"))
	assert.Empty(t, hub.Rooms(a))
	assert.False(t, a.closed.Load())
}

func TestHub_EmptyRoomIsDeleted(t *testing.T) {
	hub := startHub(t)
	a := newFakeConn()

	hub.Join(a, "c1")
	hub.Leave(a, "c1")
	settle(hub)

	reply := make(chan int, 1)
	hub.enqueue(func() { reply <- len(hub.rooms) })
	assert.Equal(t, 0, <-reply)
}

func TestHub_DisconnectReleasesAllRooms(t *testing.T) {
	hub := startHub(t)
	a, b := newFakeConn(), newFakeConn()

	hub.Join(a, "c1")
	hub.Join(a, "c2")
	hub.Join(b, "c2")
	hub.Disconnect(a)
	hub.Disconnect(a)

	assert.Empty(t, hub.Rooms(a))
	assert.Equal(t, 0, hub.RoomSize("c1"))
	assert.Equal(t, 1, hub.RoomSize("c2"))

	hub.Broadcast("c2", []byte(`{"event":"receiveMessage","data":{}}`))
	settle(hub)
	assert.Empty(t, a.Events())
	assert.Len(t, b.Events(), 1)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	hub := startHub(t)
	slow, healthy := newFakeConn(), newFakeConn()
	slow.full = true

	hub.Join(slow, "c1")
	hub.Join(slow, "c2")
	hub.Join(healthy, "c1")
	hub.Broadcast("c1", []byte(`{"event":"receiveMessage","data":{}}`))
	settle(hub)

	assert.True(t, slow.closed.Load())
	assert.Empty(t, hub.Rooms(slow))
	assert.Equal(t, 0, hub.RoomSize("c2"))
	assert.Len(t, healthy.Events(), 1)
}

func TestHub_PreservesBroadcastOrder(t *testing.T) {
	hub := startHub(t)
	a := newFakeConn()
	hub.Join(a, "c1")

	for i := 0; i < 50; i++ {
		hub.Broadcast("c1", []byte(fmt.Sprintf(`{"event":"receiveMessage","data":%d}`, i)))
	}
	settle(hub)

	frames := a.Frames()
	require.Len(t, frames, 50)
	for i, f := range frames {
		assert.JSONEq(t, fmt.Sprint(i), string(f.Data))
	}
}

func TestHub_PublishImplementsFanout(t *testing.T) {
	hub := startHub(t)
	a := newFakeConn()
	hub.Join(a, "c1")

	var fanout Fanout = hub
	require.NoError(t, fanout.Publish(context.Background(), "c1", []byte(`{"event":"receiveMessage","data":{}}`)))
	settle(hub)

	assert.Len(t, a.Events(), 1)
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()

	a := newFakeConn()
	hub.Join(a, "c1")
	settle(hub)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	assert.True(t, a.closed.Load())

	// Calls after shutdown return instead of blocking
	done := make(chan struct{})
	go func() {
		hub.Join(newFakeConn(), "c1")
		assert.Equal(t, 0, hub.RoomSize("c1"))
		assert.Nil(t, hub.Rooms(a))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub call blocked after shutdown")
	}
}
