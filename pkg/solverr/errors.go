package solverr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionDestroyed is returned by every session-scoped call issued
	// after the session transitioned to destroyed.
	ErrSessionDestroyed = errors.New("session already destroyed")

	// ErrInvalidTTL is returned when a session is constructed with a
	// negative idle TTL.
	ErrInvalidTTL = errors.New("session ttl must not be negative")
)

// CommandError is the normalized failure for a command the server rejected
// at the transport level. When the server produced a structured error
// envelope, Status, StartedAt, EndedAt and Version carry its base fields;
// otherwise only HTTPStatus and Message are populated.
type CommandError struct {
	HTTPStatus int
	Status     string
	Message    string
	StartedAt  time.Time
	EndedAt    time.Time
	Version    string
}

func (e *CommandError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("solver error [%s]: %s (started %s, ended %s, version %s)",
			e.Status, e.Message,
			e.StartedAt.Format(time.RFC3339),
			e.EndedAt.Format(time.RFC3339),
			e.Version)
	}
	return fmt.Sprintf("HTTP %d: %s", e.HTTPStatus, e.Message)
}
