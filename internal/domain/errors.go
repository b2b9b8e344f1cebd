package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrMessageNotFound = errors.New("message not found")
	ErrTokenInvalid    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Messages shown to the sender. Kept stable, clients match on them.
const (
	MsgTextRequired      = "Message text is required"
	MsgTextTooLong       = "Message text is too long"
	MsgCommunityRequired = "Community ID is required"
	MsgTokenRequired     = "Authentication token is required"
	MsgTokenInvalid      = "Invalid token"
	MsgTokenExpired      = "Token expired"
	MsgUserNotFound      = "User not found"
	MsgSendFailed        = "Failed to send message"
	MsgRateLimited       = "Rate limit exceeded"
	MsgUnknown           = "An unexpected error occurred"
)

// ValidationError reports a missing or blank required field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// AuthError reports a rejected bearer token or an unknown sender
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Err.Error()
	}
	return "authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. The message is not retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ClientError converts any pipeline error into the message and optional
// details that may be shown to the originating connection.
func ClientError(err error) (string, map[string]string) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message, map[string]string{"field": vErr.Field}
	}

	var aErr *AuthError
	if errors.As(err, &aErr) {
		return aErr.Message, nil
	}

	var pErr *PersistenceError
	if errors.As(err, &pErr) {
		return MsgSendFailed, nil
	}

	if errors.Is(err, ErrRateLimited) {
		return MsgRateLimited, nil
	}

	return MsgUnknown, nil
}
