package domain

import (
	"context"
	"time"
)

// DefaultCommunityID is the room every client may join without a minted id
const DefaultCommunityID = "global"

// Message represents a persisted community chat message.
// SenderName is captured at send time and is not updated on rename.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	Text        string    `json:"text"`
	CommunityID string    `json:"communityId"`
	IsAnonymous bool      `json:"isAnonymous"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HistoryMessage is a message enriched with the sender's current avatar,
// returned by history reads only.
type HistoryMessage struct {
	Message
	SenderAvatar string `json:"senderAvatar,omitempty"`
}

// MessageRepository defines the append-only message store
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByCommunity(ctx context.Context, communityID string, limit int) ([]*HistoryMessage, error)
	GetByCommunityBefore(ctx context.Context, communityID, beforeID string, limit int) ([]*HistoryMessage, error)
}
