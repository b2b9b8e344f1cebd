package domain

import (
	"context"
	"time"
)

// User is a row of the user directory
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserProfile is the projection the chat subsystem is allowed to read
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// UserDirectory resolves user ids to display profiles
type UserDirectory interface {
	GetProfile(ctx context.Context, id string) (*UserProfile, error)
}

// UserRepository is the writable user store used by tooling
type UserRepository interface {
	UserDirectory
	Create(ctx context.Context, user *User) error
	GetByName(ctx context.Context, name string) (*User, error)
}
