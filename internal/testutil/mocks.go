// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the peersupport-chat application.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peersupport-chat/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockStore          = errors.New("mock: store unavailable")
)

// MockUserDirectory implements domain.UserRepository for testing
type MockUserDirectory struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	GetProfileFunc func(ctx context.Context, id string) (*domain.UserProfile, error)
	CreateFunc     func(ctx context.Context, user *domain.User) error

	// In-memory storage for simple tests
	Users map[string]*domain.User
}

// NewMockUserDirectory creates a directory pre-populated with the given users
func NewMockUserDirectory(users ...*domain.User) *MockUserDirectory {
	m := &MockUserDirectory{Users: make(map[string]*domain.User)}
	for _, u := range users {
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockUserDirectory) GetProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	if m.GetProfileFunc != nil {
		return m.GetProfileFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.Users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &domain.UserProfile{ID: u.ID, Name: u.Name, Avatar: u.Avatar}, nil
}

func (m *MockUserDirectory) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.Users {
		if u.Name == user.Name {
			return domain.ErrUserExists
		}
	}
	if user.ID == "" {
		user.ID = nextID("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if m.Users == nil {
		m.Users = make(map[string]*domain.User)
	}
	m.Users[user.ID] = user
	return nil
}

func (m *MockUserDirectory) GetByName(_ context.Context, name string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.Users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// MockMessageRepository implements domain.MessageRepository in memory
type MockMessageRepository struct {
	mu sync.RWMutex

	CreateFunc  func(ctx context.Context, message *domain.Message) error
	GetByIDFunc func(ctx context.Context, id string) (*domain.Message, error)

	// Messages in insertion order
	Messages []*domain.Message

	// Calls counts Create invocations, including failed ones
	Calls int
}

// NewMockMessageRepository creates an empty in-memory message store
func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{}
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, message)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	message.ID = nextID("msg")
	message.CreatedAt = now
	message.UpdatedAt = now

	stored := *message
	m.Messages = append(m.Messages, &stored)
	return nil
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.Messages {
		if msg.ID == id {
			out := *msg
			return &out, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (m *MockMessageRepository) GetByCommunity(_ context.Context, communityID string, limit int) ([]*domain.HistoryMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.page(communityID, len(m.Messages), limit), nil
}

func (m *MockMessageRepository) GetByCommunityBefore(_ context.Context, communityID, beforeID string, limit int) ([]*domain.HistoryMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, msg := range m.Messages {
		if msg.ID == beforeID {
			return m.page(communityID, i, limit), nil
		}
	}
	return []*domain.HistoryMessage{}, nil
}

// page returns up to limit messages of a community stored before index end, oldest first
func (m *MockMessageRepository) page(communityID string, end, limit int) []*domain.HistoryMessage {
	result := []*domain.HistoryMessage{}
	for i := end - 1; i >= 0 && len(result) < limit; i-- {
		if m.Messages[i].CommunityID == communityID {
			result = append(result, &domain.HistoryMessage{Message: *m.Messages[i]})
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Count returns the number of stored messages
func (m *MockMessageRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Messages)
}

// MockTokenVerifier maps tokens to user ids
type MockTokenVerifier struct {
	Tokens map[string]string
	Err    map[string]error
}

// NewMockTokenVerifier creates a verifier accepting the given token to user id pairs
func NewMockTokenVerifier(tokens map[string]string) *MockTokenVerifier {
	return &MockTokenVerifier{Tokens: tokens, Err: map[string]error{}}
}

func (m *MockTokenVerifier) Verify(token string) (string, error) {
	if err, ok := m.Err[token]; ok {
		return "", err
	}
	if id, ok := m.Tokens[token]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: unknown token", domain.ErrTokenInvalid)
}

// MockBroadcaster records every broadcast message
type MockBroadcaster struct {
	mu       sync.Mutex
	Err      error
	Messages []*domain.Message
}

func (m *MockBroadcaster) BroadcastMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return m.Err
}

// Broadcasts returns a copy of the recorded messages
func (m *MockBroadcaster) Broadcasts() []*domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Message(nil), m.Messages...)
}
