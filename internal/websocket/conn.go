package websocket

import "sync"

// Transport names used in logs and metrics
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Conn is one real-time connection as seen by the hub and the dispatcher.
// Send must never block; it returns false when the frame could not be queued.
type Conn interface {
	ID() string
	Transport() string
	Send(data []byte) bool
	Close()

	// UserID is the identity verified by the most recent successful send,
	// empty until then.
	UserID() string
	BindUser(userID string)
}

// identity holds the per-connection state shared by every transport
type identity struct {
	id     string
	mu     sync.RWMutex
	userID string
}

func (i *identity) ID() string { return i.id }

func (i *identity) UserID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.userID
}

func (i *identity) BindUser(userID string) {
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
}
