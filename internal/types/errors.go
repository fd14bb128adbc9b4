package types

import (
	"context"
	"errors"
)

// Class buckets every failure the engine can produce. The bucket decides
// how callers react: user input is rejected synchronously, conflicts are
// resubmitted with fresh state, transients retry with backoff, permanents
// surface immediately, and aborts are neither failures nor retried.
type Class int

const (
	ClassUnknown Class = iota
	ClassUserInput
	ClassConflict
	ClassTransient
	ClassPermanent
	ClassAborted
)

func (c Class) String() string {
	switch c {
	case ClassUserInput:
		return "user_input"
	case ClassConflict:
		return "conflict"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across packages.
var (
	// ErrNotFound is returned when a document or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionResolved is returned when mutating a terminal session.
	ErrSessionResolved = errors.New("session already resolved")

	// ErrTransient marks a failure worth retrying (network, 5xx).
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks a failure that must never be retried.
	ErrPermanent = errors.New("permanent failure")

	// ErrConflict marks optimistic-concurrency and match conflicts.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput marks bad command arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// Classifier lets structured error types declare their own class without
// this package importing them.
type Classifier interface {
	Class() Class
}

// Classify maps an error to its taxonomy bucket by unwrapping.
// Context cancellation is an abort, never a failure.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassAborted
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Class()
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ClassUserInput
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrNotFound):
		return ClassPermanent
	default:
		return ClassUnknown
	}
}

// Retryable reports whether the error should enter the retry queue.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}
