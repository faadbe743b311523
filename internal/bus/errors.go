package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMessage is wrapped by every ValidationError.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrUnknownRecipient is returned for directed messages to an agent
	// that never registered.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// ValidationError describes why a message was rejected.
type ValidationError struct {
	Type   MessageType
	From   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s message from %q: %s", e.Type, e.From, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidMessage }

func invalid(m Message, reason string) error {
	return &ValidationError{Type: m.Type, From: m.From, Reason: reason}
}
