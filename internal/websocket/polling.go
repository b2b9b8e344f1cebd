package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"peersupport-chat/internal/observability"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("poll session not found")
	ErrSessionClosed   = errors.New("poll session closed")
)

// PollSession is a long-polling connection. Outbound frames queue until the
// client collects them with a poll request.
type PollSession struct {
	identity
	queue      chan []byte
	dispatchMu sync.Mutex
	lastSeen   atomic.Int64
	done       chan struct{}
	closeOnce  sync.Once
}

func newPollSession(now time.Time) *PollSession {
	s := &PollSession{
		identity: identity{id: uuid.NewString()},
		queue:    make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
	s.touch(now)
	return s
}

func (s *PollSession) Transport() string { return TransportPolling }

// Send queues a frame without blocking
func (s *PollSession) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

// Close ends the session. Safe to call more than once.
func (s *PollSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *PollSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *PollSession) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *PollSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// drain waits up to wait for a first frame, then returns every frame queued so far.
// An empty result means the wait elapsed.
func (s *PollSession) drain(ctx context.Context, wait time.Duration) ([]json.RawMessage, error) {
	frames := []json.RawMessage{}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case data := <-s.queue:
		frames = append(frames, data)
	case <-s.done:
		return nil, ErrSessionClosed
	case <-timer.C:
		return frames, nil
	case <-ctx.Done():
		return frames, ctx.Err()
	}

	for {
		select {
		case data := <-s.queue:
			frames = append(frames, data)
		default:
			return frames, nil
		}
	}
}

// PollManager owns the long-polling sessions of this process
type PollManager struct {
	mu         sync.RWMutex
	sessions   map[string]*PollSession
	dispatcher *Dispatcher
	wait       time.Duration
	ttl        time.Duration
	now        func() time.Time
}

func NewPollManager(dispatcher *Dispatcher, wait, ttl time.Duration) *PollManager {
	return &PollManager{
		sessions:   make(map[string]*PollSession),
		dispatcher: dispatcher,
		wait:       wait,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Open starts a new session and returns it
func (m *PollManager) Open() *PollSession {
	s := newPollSession(m.now())

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	observability.ConnectionsActive.WithLabelValues(TransportPolling).Inc()
	slog.Info("poll session opened", slog.String("connection_id", s.ID()))
	return s
}

func (m *PollManager) get(sid string) (*PollSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.closed() {
		m.remove(s, "closed")
		return nil, ErrSessionClosed
	}
	s.touch(m.now())
	return s, nil
}

// Receive long-polls a session for outbound frames
func (m *PollManager) Receive(ctx context.Context, sid string) ([]json.RawMessage, error) {
	s, err := m.get(sid)
	if err != nil {
		return nil, err
	}
	defer s.touch(m.now())

	frames, err := s.drain(ctx, m.wait)
	if errors.Is(err, ErrSessionClosed) {
		m.remove(s, "closed")
	}
	return frames, err
}

// Submit dispatches a batch of inbound frames in order
func (m *PollManager) Submit(ctx context.Context, sid string, frames []json.RawMessage) error {
	s, err := m.get(sid)
	if err != nil {
		return err
	}

	// Frames of one session are dispatched in submission order, even across
	// concurrent requests.
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for _, frame := range frames {
		m.dispatcher.Dispatch(ctx, s, frame)
	}
	return nil
}

// Disconnect ends a session at the client's request
func (m *PollManager) Disconnect(sid string) error {
	m.mu.RLock()
	s, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.remove(s, "client")
	return nil
}

func (m *PollManager) remove(s *PollSession, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[s.ID()]
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	if !ok {
		return
	}

	m.dispatcher.Disconnect(s)
	s.Close()
	observability.ConnectionsActive.WithLabelValues(TransportPolling).Dec()
	slog.Info("poll session closed",
		slog.String("connection_id", s.ID()),
		slog.String("reason", reason))
}

// Len returns the number of open sessions
func (m *PollManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions idle for longer than the session TTL
func (m *PollManager) Reap() int {
	now := m.now()

	m.mu.RLock()
	var idle []*PollSession
	for _, s := range m.sessions {
		if s.idleSince(now) > m.ttl {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		m.remove(s, "idle")
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done, then closes the rest
func (m *PollManager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				slog.Debug("reaped idle poll sessions", slog.Int("count", n))
			}
		}
	}
}

func (m *PollManager) closeAll() {
	m.mu.RLock()
	all := make([]*PollSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		m.remove(s, "shutdown")
	}
}
