package errors

import (
	stderrors "errors"
	"fmt"
)

// Error kinds. Every error returned by the services wraps exactly one of them.
var (
	ErrValidation      = fmt.Errorf("validation error")
	ErrNotFound        = fmt.Errorf("not found")
	ErrForbidden       = fmt.Errorf("forbidden")
	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrUnavailable     = fmt.Errorf("temporarily unavailable")
	ErrRateLimited     = fmt.Errorf("rate limited")
)

var (
	ErrWorkerPanic  = fmt.Errorf("worker panic")
	ErrHandlerPanic = fmt.Errorf("handler panic")
	ErrOutboxFull   = fmt.Errorf("outbox full")
	ErrOutboxClosed = fmt.Errorf("outbox closed")

	ErrParticipantCount     = fmt.Errorf("%w: wrong number of participants for conversation type", ErrValidation)
	ErrConversationType     = fmt.Errorf("%w: unknown conversation type", ErrValidation)
	ErrNotGroup             = fmt.Errorf("%w: operation only allowed on group conversations", ErrValidation)
	ErrPrivateLeave         = fmt.Errorf("%w: private conversations cannot be left", ErrValidation)
	ErrMessageType          = fmt.Errorf("%w: unknown message type", ErrValidation)
	ErrEmptyContent         = fmt.Errorf("%w: content is required", ErrValidation)
	ErrContentTooLong       = fmt.Errorf("%w: content is too long", ErrValidation)
	ErrMissingAttachment    = fmt.Errorf("%w: attachment is required", ErrValidation)
	ErrAttachmentMimeType   = fmt.Errorf("%w: attachment type does not match the message type", ErrValidation)
	ErrNotEditable          = fmt.Errorf("%w: only text messages can be edited", ErrValidation)
	ErrEmojiNotAllowed      = fmt.Errorf("%w: emoji not allowed", ErrValidation)
	ErrEmptySearchTerm      = fmt.Errorf("%w: search term is required", ErrValidation)
	ErrInvalidPayload       = fmt.Errorf("%w: invalid payload", ErrValidation)
	ErrUnknownEvent         = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrSystemFromClient     = fmt.Errorf("%w: system messages cannot be sent by clients", ErrValidation)
	ErrAlreadyAuthenticated = fmt.Errorf("%w: connection already authenticated as another user", ErrValidation)
	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)
	ErrParticipantMissing   = fmt.Errorf("%w: participant", ErrNotFound)
	ErrNotParticipant       = fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	ErrNotAdmin             = fmt.Errorf("%w: only admins can change membership", ErrForbidden)
	ErrNotSender            = fmt.Errorf("%w: only the sender can change this message", ErrForbidden)
	ErrSelfRemoval          = fmt.Errorf("%w: use leave to remove yourself", ErrForbidden)
	ErrInvalidToken         = fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	ErrNotAuthenticated     = fmt.Errorf("%w: authenticate first", ErrUnauthenticated)
	ErrConnectionClosed     = fmt.Errorf("%w: connection closed", ErrUnauthenticated)
)

// Wire codes sent back to clients in error events.
const (
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeUnauthenticated = "unauthenticated"
	CodeUnavailable     = "unavailable"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// Code classifies err into one of the wire codes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrValidation):
		return CodeValidation
	case stderrors.Is(err, ErrNotFound):
		return CodeNotFound
	case stderrors.Is(err, ErrForbidden):
		return CodeForbidden
	case stderrors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case stderrors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case stderrors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether the client may retry the same request later.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrUnavailable) || stderrors.Is(err, ErrRateLimited)
}

// Is and As are re-exported so callers importing this package do not need the standard one too.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
