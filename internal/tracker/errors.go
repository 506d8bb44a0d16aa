package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrStateConflict is returned when an operation does not apply to the current
	// encounter state (e.g. kill while the boss is not up yet). Nothing was mutated.
	ErrStateConflict = errors.New("state conflict")

	// ErrPersistence wraps durable-store failures. In-memory state may diverge from
	// storage until the next Reload.
	ErrPersistence = errors.New("persistence failure")

	// ErrMessaging wraps send/edit/pin failures of the messaging platform.
	ErrMessaging = errors.New("messaging failure")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func messagingErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrMessaging, err)
}
