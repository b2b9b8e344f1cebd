package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"
)

const (
	insertMessageQuery = `
		INSERT INTO messages (sender_id, sender_name, text, community_id, is_anonymous)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	selectMessageByIDQuery = `
		SELECT id, sender_id, sender_name, text, community_id, is_anonymous, created_at, updated_at
		FROM messages
		WHERE id = $1
	`

	selectByCommunityQuery = `
		SELECT m.id, m.sender_id, m.sender_name, m.text, m.community_id, m.is_anonymous,
		       m.created_at, m.updated_at, COALESCE(u.avatar, '')
		FROM messages m
		LEFT JOIN users u ON m.sender_id = u.id
		WHERE m.community_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2
	`

	selectByCommunityBeforeQuery = `
		SELECT m.id, m.sender_id, m.sender_name, m.text, m.community_id, m.is_anonymous,
		       m.created_at, m.updated_at, COALESCE(u.avatar, '')
		FROM messages m
		LEFT JOIN users u ON m.sender_id = u.id
		WHERE m.community_id = $1
		  AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $2)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`
)

// MessageRepository implements domain.MessageRepository for PostgreSQL
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a new message. It is a single atomic insert; the store
// assigns id and timestamps.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	defer observeQuery("insert", time.Now())

	err := r.db.QueryRowContext(ctx, insertMessageQuery,
		message.SenderID,
		message.SenderName,
		message.Text,
		message.CommunityID,
		message.IsAnonymous,
	).Scan(&message.ID, &message.CreatedAt, &message.UpdatedAt)

	switch {
	case err == nil:
		return nil
	case IsForeignKeyViolation(err, ""):
		return fmt.Errorf("failed to create message: %w", domain.ErrUserNotFound)
	case IsCheckViolation(err, ""):
		return fmt.Errorf("failed to create message: %w", domain.ErrInvalidInput)
	default:
		return fmt.Errorf("failed to create message: %w", err)
	}
}

// GetByID retrieves a single message as a plain value
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	defer observeQuery("select", time.Now())

	msg := &domain.Message{}
	err := r.db.QueryRowContext(ctx, selectMessageByIDQuery, id).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Text,
		&msg.CommunityID,
		&msg.IsAnonymous,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetByCommunity retrieves the latest messages of a community, oldest first
func (r *MessageRepository) GetByCommunity(ctx context.Context, communityID string, limit int) ([]*domain.HistoryMessage, error) {
	defer observeQuery("select", time.Now())

	rows, err := r.db.QueryContext(ctx, selectByCommunityQuery, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows, limit)
}

// GetByCommunityBefore retrieves messages older than beforeID, oldest first
func (r *MessageRepository) GetByCommunityBefore(ctx context.Context, communityID, beforeID string, limit int) ([]*domain.HistoryMessage, error) {
	defer observeQuery("select", time.Now())

	rows, err := r.db.QueryContext(ctx, selectByCommunityBeforeQuery, communityID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanHistory(rows, limit)
}

func scanHistory(rows *sql.Rows, limit int) ([]*domain.HistoryMessage, error) {
	messages := make([]*domain.HistoryMessage, 0, limit)
	for rows.Next() {
		msg := &domain.HistoryMessage{}
		err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Text,
			&msg.CommunityID,
			&msg.IsAnonymous,
			&msg.CreatedAt,
			&msg.UpdatedAt,
			&msg.SenderAvatar,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// Reverse the slice to get oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func observeQuery(operation string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, "messages").Observe(time.Since(start).Seconds())
}
