package service

import (
	"context"
	"errors"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotAuthorized     = errors.New("not a member of this room")
	ErrChatNotReady      = errors.New("room has not reached its minimum participants")
	ErrNotJoined         = errors.New("connection has not joined a room")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrMessageNotFound   = errors.New("message not found in this room")
	ErrPersistenceFailed = errors.New("message could not be stored")
	ErrUnavailable       = errors.New("chat backend unavailable")
)

// ReasonFor maps an error to the reason code sent in error events.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrChatNotReady):
		return "chat_not_ready"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// retryOnce runs fn and, on failure, runs it one more time unless ctx is
// already done.
func retryOnce(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || ctx.Err() != nil {
		return err
	}
	return fn()
}
