package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"peersupport-chat/internal/domain"
)

// UserRepository implements domain.UserRepository for PostgreSQL
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (name, avatar)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.Name,
		user.Avatar,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if IsUniqueViolation(err, "users_name_key") {
			return domain.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetProfile resolves a user id to its display name and avatar only
func (r *UserRepository) GetProfile(ctx context.Context, id string) (*domain.UserProfile, error) {
	query := `
		SELECT id, name, avatar
		FROM users
		WHERE id = $1
	`
	profile := &domain.UserProfile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID,
		&profile.Name,
		&profile.Avatar,
	)
	// Token subjects are opaque, so one that is not a UUID names no user
	if errors.Is(err, sql.ErrNoRows) || IsInvalidTextRepresentation(err) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return profile, nil
}

// GetByName retrieves a user by display name
func (r *UserRepository) GetByName(ctx context.Context, name string) (*domain.User, error) {
	query := `
		SELECT id, name, avatar, created_at
		FROM users
		WHERE name = $1
	`
	user := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&user.ID,
		&user.Name,
		&user.Avatar,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
