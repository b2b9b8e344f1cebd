package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"peersupport-chat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID        string
	Name      string
	Avatar    string
	CreatedAt time.Time
}

// NewTestUser creates a test user with sensible defaults
// Pass options to override specific fields
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	o := &UserOptions{
		ID:   nextID("user"),
		Name: fmt.Sprintf("member%d", idCounter.Load()),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return &domain.User{
		ID:        o.ID,
		Name:      o.Name,
		Avatar:    o.Avatar,
		CreatedAt: o.CreatedAt,
	}
}

// WithUserID sets the user ID
func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.ID = id
	}
}

// WithUserName sets the display name
func WithUserName(name string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.Name = name
	}
}

// WithAvatar sets the avatar URL
func WithAvatar(avatar string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.Avatar = avatar
	}
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID          string
	SenderID    string
	SenderName  string
	Text        string
	CommunityID string
	CreatedAt   time.Time
}

// NewTestMessage creates a persisted-looking message with sensible defaults
func NewTestMessage(opts ...func(*MessageOptions)) *domain.Message {
	o := &MessageOptions{
		ID:          nextID("msg"),
		SenderID:    "user-1",
		SenderName:  "alice",
		Text:        "hello",
		CommunityID: domain.DefaultCommunityID,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	return &domain.Message{
		ID:          o.ID,
		SenderID:    o.SenderID,
		SenderName:  o.SenderName,
		Text:        o.Text,
		CommunityID: o.CommunityID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.CreatedAt,
	}
}

// WithMessageID sets the message ID
func WithMessageID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.ID = id
	}
}

// WithSender sets the sender id and denormalized name
func WithSender(id, name string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.SenderID = id
		o.SenderName = name
	}
}

// WithText sets the message text
func WithText(text string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.Text = text
	}
}

// WithCommunityID sets the community room key
func WithCommunityID(id string) func(*MessageOptions) {
	return func(o *MessageOptions) {
		o.CommunityID = id
	}
}
