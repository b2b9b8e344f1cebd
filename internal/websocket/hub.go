package websocket

import (
	"context"
	"log/slog"
	"sort"

	"peersupport-chat/internal/observability"
)

// Fanout delivers an encoded frame to every member of a room, wherever they are connected
type Fanout interface {
	Publish(ctx context.Context, communityID string, data []byte) error
}

// Hub maintains room membership for the connections of this process.
// All state is owned by the Run loop; exported methods enqueue work for it.
type Hub struct {
	// Members by community
	rooms map[string]map[Conn]struct{}

	// Communities by connection
	memberships map[Conn]map[string]struct{}

	ops  chan func()
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[string]map[Conn]struct{}),
		memberships: make(map[Conn]map[string]struct{}),
		ops:         make(chan func(), 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()
		case op := <-h.ops:
			op()
		}
	}
}

// enqueue hands op to the loop. It reports false once the hub has stopped.
func (h *Hub) enqueue(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

// Join adds conn to a community room. Joining twice is a no-op.
func (h *Hub) Join(conn Conn, communityID string) {
	h.enqueue(func() { h.join(conn, communityID) })
}

// Leave removes conn from a community room. Leaving a room never joined is a no-op.
func (h *Hub) Leave(conn Conn, communityID string) {
	h.enqueue(func() { h.leave(conn, communityID) })
}

// Disconnect releases every membership held by conn
func (h *Hub) Disconnect(conn Conn) {
	h.enqueue(func() { h.disconnect(conn) })
}

// Broadcast sends data to all current members of a community room
func (h *Hub) Broadcast(communityID string, data []byte) {
	h.enqueue(func() { h.broadcast(communityID, data) })
}

// Publish implements Fanout for single-process deployments
func (h *Hub) Publish(_ context.Context, communityID string, data []byte) error {
	h.Broadcast(communityID, data)
	return nil
}

// RoomSize returns the number of local members of a community room
func (h *Hub) RoomSize(communityID string) int {
	reply := make(chan int, 1)
	if !h.enqueue(func() { reply <- len(h.rooms[communityID]) }) {
		return 0
	}
	return await(h, reply, 0)
}

// Rooms returns the communities conn has joined, sorted
func (h *Hub) Rooms(conn Conn) []string {
	reply := make(chan []string, 1)
	ok := h.enqueue(func() {
		rooms := make([]string, 0, len(h.memberships[conn]))
		for room := range h.memberships[conn] {
			rooms = append(rooms, room)
		}
		sort.Strings(rooms)
		reply <- rooms
	})
	if !ok {
		return nil
	}
	return await(h, reply, []string(nil))
}

func await[T any](h *Hub, reply chan T, fallback T) T {
	select {
	case v := <-reply:
		return v
	case <-h.done:
		return fallback
	}
}

func (h *Hub) join(conn Conn, communityID string) {
	members, ok := h.rooms[communityID]
	if !ok {
		members = make(map[Conn]struct{})
		h.rooms[communityID] = members
	}
	if _, ok := members[conn]; ok {
		return
	}
	members[conn] = struct{}{}

	if h.memberships[conn] == nil {
		h.memberships[conn] = make(map[string]struct{})
	}
	h.memberships[conn][communityID] = struct{}{}

	observability.CommunityMembersActive.WithLabelValues(communityID).Set(float64(len(members)))
	slog.Debug("connection joined community",
		slog.String("connection_id", conn.ID()),
		slog.String("community_id", communityID))
}

func (h *Hub) leave(conn Conn, communityID string) {
	members, ok := h.rooms[communityID]
	if !ok {
		return
	}
	if _, ok := members[conn]; !ok {
		return
	}
	delete(members, conn)

	if rooms := h.memberships[conn]; rooms != nil {
		delete(rooms, communityID)
		if len(rooms) == 0 {
			delete(h.memberships, conn)
		}
	}

	// Clean up empty community
	if len(members) == 0 {
		delete(h.rooms, communityID)
		observability.CommunityMembersActive.DeleteLabelValues(communityID)
	} else {
		observability.CommunityMembersActive.WithLabelValues(communityID).Set(float64(len(members)))
	}

	slog.Debug("connection left community",
		slog.String("connection_id", conn.ID()),
		slog.String("community_id", communityID))
}

func (h *Hub) disconnect(conn Conn) {
	for room := range h.memberships[conn] {
		h.leave(conn, room)
	}
	delete(h.memberships, conn)
}

func (h *Hub) broadcast(communityID string, data []byte) {
	members, ok := h.rooms[communityID]
	if !ok {
		return
	}

	var slow []Conn
	for conn := range members {
		if conn.Send(data) {
			observability.EventsDelivered.WithLabelValues(EventReceiveMessage).Inc()
			continue
		}
		slow = append(slow, conn)
	}

	// Send buffer full, drop the connection
	for _, conn := range slow {
		observability.EventsDropped.WithLabelValues(EventReceiveMessage).Inc()
		slog.Warn("dropping slow connection",
			slog.String("connection_id", conn.ID()),
			slog.String("community_id", communityID),
			slog.String("transport", conn.Transport()))
		h.disconnect(conn)
		conn.Close()
	}
}

// shutdown closes every connection still joined to a room
func (h *Hub) shutdown() {
	close(h.done)

	closed := 0
	for conn := range h.memberships {
		conn.Close()
		closed++
	}
	h.rooms = make(map[string]map[Conn]struct{})
	h.memberships = make(map[Conn]map[string]struct{})

	slog.Info("hub shutdown complete", slog.Int("closed_connections", closed))
}
