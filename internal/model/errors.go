package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a message or task id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrDependencyNotFound is returned when a dependency operation names an
	// unknown task or an edge that does not exist.
	ErrDependencyNotFound = errors.New("dependency not found")
	// ErrCycleDetected is returned when an edge would create a cycle among
	// blocking edges, or is a self-loop.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrDuplicateDependency is returned when an identical edge already exists.
	ErrDuplicateDependency = errors.New("dependency already exists")
	// ErrDuplicateAuthorization is returned when an authorization for the same
	// channel and action is already waiting for a decision.
	ErrDuplicateAuthorization = errors.New("duplicate authorization in flight")
	// ErrTimeout matches any *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrCancelled is returned when the caller abandons a wait.
	ErrCancelled = errors.New("request cancelled")
	// ErrConnection matches any *ConnectionError.
	ErrConnection = errors.New("connection unavailable")
	// ErrInternal marks a broken internal invariant, as opposed to bad input.
	ErrInternal = errors.New("internal invariant violated")
)

// TimeoutError reports that no response arrived before the deadline.
// Default carries the implied outcome: a denied response for authorizations,
// nil for questions and navigation.
type TimeoutError struct {
	CorrelationID string
	After         time.Duration
	Default       *Message
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %s after %s", e.CorrelationID, e.After)
}

// Is makes errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConnectionError reports that a transport could not be (re)established.
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connecting to %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnection) match.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
