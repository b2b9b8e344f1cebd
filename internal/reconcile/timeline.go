// Package reconcile keeps a client's view of community timelines consistent
// while sends are still in flight.
package reconcile

import (
	"sync"
	"time"

	"peersupport-chat/internal/domain"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids that were assigned locally and never persisted
const TempIDPrefix = "local-"

// Entry is one line of a timeline. Pending entries carry a temporary id
// until the server confirms them.
type Entry struct {
	domain.Message
	Pending bool   `json:"pending"`
	Failed  bool   `json:"failed"`
	Reason  string `json:"reason,omitempty"`
}

// DefaultMatchWindow is how far apart an optimistic entry and a confirmed
// message may be stamped and still be taken for the same send. It absorbs
// delivery latency and moderate clock skew between client and server.
const DefaultMatchWindow = time.Minute

// Timeline holds the ordered messages of every room a client has seen
type Timeline struct {
	mu    sync.Mutex
	rooms map[string][]Entry
	// ids of confirmed messages, for de-duplication across events
	seen        map[string]struct{}
	now         func() time.Time
	matchWindow time.Duration
}

func NewTimeline() *Timeline {
	return &Timeline{
		rooms:       make(map[string][]Entry),
		seen:        make(map[string]struct{}),
		now:         time.Now,
		matchWindow: DefaultMatchWindow,
	}
}

// AddOptimistic appends a pending entry for a message the client is about to send
func (t *Timeline) AddOptimistic(room, senderID, senderName, text string) Entry {
	now := t.now().UTC()
	entry := Entry{
		Message: domain.Message{
			ID:          TempIDPrefix + uuid.NewString(),
			SenderID:    senderID,
			SenderName:  senderName,
			Text:        text,
			CommunityID: room,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Pending: true,
	}

	t.mu.Lock()
	t.rooms[room] = append(t.rooms[room], entry)
	t.mu.Unlock()
	return entry
}

// Apply merges a confirmed message. It returns false when the message was
// already applied. A matching pending entry is replaced in place, so the
// confirmed message keeps the position the user saw it at.
func (t *Timeline) Apply(msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}

	entries := t.rooms[msg.CommunityID]
	for i := range entries {
		if t.matches(entries[i], msg) {
			entries[i] = Entry{Message: msg}
			return true
		}
	}
	t.rooms[msg.CommunityID] = append(entries, Entry{Message: msg})
	return true
}

// Confirm merges the server's acknowledgement of the send that created tempID.
// The optimistic entry is replaced by msg, or dropped when msg is already in
// the timeline because its broadcast arrived first and took another slot.
// It returns false when msg was already applied.
func (t *Timeline) Confirm(tempID string, msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, i, ok := t.findPending(tempID)
	if _, seen := t.seen[msg.ID]; seen {
		if ok {
			t.rooms[room] = append(t.rooms[room][:i], t.rooms[room][i+1:]...)
		}
		return false
	}
	t.seen[msg.ID] = struct{}{}

	if ok && room == msg.CommunityID {
		t.rooms[room][i] = Entry{Message: msg}
		return true
	}
	if ok {
		t.rooms[room] = append(t.rooms[room][:i], t.rooms[room][i+1:]...)
	}
	t.rooms[msg.CommunityID] = append(t.rooms[msg.CommunityID], Entry{Message: msg})
	return true
}

// matches reports whether a pending entry stands for the confirmed msg
func (t *Timeline) matches(e Entry, msg domain.Message) bool {
	if !e.Pending || e.SenderID != msg.SenderID || e.Text != msg.Text {
		return false
	}
	if t.matchWindow <= 0 || msg.CreatedAt.IsZero() {
		return true
	}
	gap := msg.CreatedAt.Sub(e.CreatedAt)
	return gap <= t.matchWindow && gap >= -t.matchWindow
}

func (t *Timeline) findPending(tempID string) (string, int, bool) {
	for room, entries := range t.rooms {
		for i := range entries {
			if entries[i].ID == tempID && entries[i].Pending {
				return room, i, true
			}
		}
	}
	return "", 0, false
}

// Fail marks a pending entry as rejected. It reports whether the entry was found.
func (t *Timeline) Fail(tempID, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for room, entries := range t.rooms {
		for i := range entries {
			if entries[i].ID != tempID {
				continue
			}
			if !entries[i].Pending {
				return false
			}
			t.rooms[room][i].Pending = false
			t.rooms[room][i].Failed = true
			t.rooms[room][i].Reason = reason
			return true
		}
	}
	return false
}

// Messages returns a copy of the room's timeline
func (t *Timeline) Messages(room string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.rooms[room]))
	copy(out, t.rooms[room])
	return out
}

// Pending counts entries still awaiting confirmation in a room
func (t *Timeline) Pending(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.rooms[room] {
		if e.Pending {
			n++
		}
	}
	return n
}
