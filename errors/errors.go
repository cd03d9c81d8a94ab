package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrUnauthenticated    = fmt.Errorf("unauthenticated")
	ErrPersistence        = fmt.Errorf("persistence failed")
	ErrChatNotFound       = fmt.Errorf("chat not found")
	ErrMessageNotFound    = fmt.Errorf("message not found")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrNotChatMember      = fmt.Errorf("sender is not a member of the chat")
	ErrForbidden          = fmt.Errorf("forbidden")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnknownEvent       = fmt.Errorf("unknown event")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrBackpressure       = fmt.Errorf("connection send buffer full")
	ErrConnectionClosed   = fmt.Errorf("connection closed")
	ErrEmptyWords         = fmt.Errorf("no words have been found")
)

// Code maps an error to the code sent back to the originating connection.
func Code(err error) string {
	switch {
	case stderrors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case stderrors.Is(err, ErrNotChatMember):
		return "not_member"
	case stderrors.Is(err, ErrChatNotFound):
		return "chat_not_found"
	case stderrors.Is(err, ErrPersistence):
		return "persistence_failed"
	case stderrors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case stderrors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case stderrors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case stderrors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
