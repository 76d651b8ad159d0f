// internal/apperr/apperr.go
//
// Package apperr defines the error taxonomy shared by the auth core and
// the realtime core. Every boundary call (cache, storage, sms) is mapped
// to one of these kinds before it reaches a transport.
package apperr

import "errors"

var (
	// ErrAuthFailed — bad credentials (unknown user, wrong password or code).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTokenInvalid — bad, expired, revoked or stale token.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrForbidden — authenticated, but not authorized for the resource/room.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidPayload — malformed client input.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrServer — unexpected/internal failure, including collaborator
	// timeouts. Safe for the client to retry.
	ErrServer = errors.New("internal server error")
)

// Is reports whether err belongs to the given kind.
func Is(err, kind error) bool { return errors.Is(err, kind) }
