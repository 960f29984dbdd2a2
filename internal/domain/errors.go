package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input that can never succeed; callers must not retry it.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when a transition is not legal from the current status.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNotFound is returned by repositories when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when an optimistic concurrency check fails.
	ErrVersionConflict = errors.New("version conflict")

	// ErrIdempotencyConflict is returned when an idempotency key is reused with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	// ErrAccountRejected is a definitive refusal from the account service (e.g. insufficient funds).
	ErrAccountRejected = errors.New("account service rejected the operation")

	// ErrAccountUnavailable is a transient account service failure (timeout, 5xx, network).
	ErrAccountUnavailable = errors.New("account service unavailable")
)

// InvalidStateError describes a rejected state machine transition
type InvalidStateError struct {
	Action string
	From   TransferStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s a transfer in status %s", e.Action, e.From)
}

// Unwrap lets errors.Is(err, ErrInvalidState) match
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
