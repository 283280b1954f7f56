package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrNoDestination = errors.New("client has no telegram chat")
	ErrEmptyMessage  = errors.New("text or attachment required")
	ErrInvalidStatus = errors.New("invalid status")
	// ErrPersist marks a message that could not be recorded, whatever happened to its delivery.
	ErrPersist       = errors.New("persist message")
)

// TransportError is a failed call to the Telegram Bot API.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
