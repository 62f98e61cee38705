package domain

import (
	"errors"
	"fmt"
)

// Kind partitions collaborator failures by how the orchestrator must react.
type Kind string

const (
	// KindTransient failures (timeouts, rate limits, temporary
	// unavailability) may be retried within the same run.
	KindTransient Kind = "transient"
	// KindPermanent failures (bad credentials, invalid metadata, exhausted
	// quota) abort the run without retry.
	KindPermanent Kind = "permanent"
	// KindInterrupted marks a run the process abandoned mid-flight;
	// only restart recovery produces it.
	KindInterrupted Kind = "interrupted"
	// KindConfig failures are fatal at startup; scheduling never begins.
	KindConfig Kind = "config"
)

// ClassifiedError carries a failure kind across the collaborator boundary.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Transientf is Transient over a formatted message.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

// Permanentf is Permanent over a formatted message.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// ConfigErrorf reports an unusable configuration value.
func ConfigErrorf(format string, args ...any) error {
	return &ClassifiedError{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err. Unclassified errors report
// KindPermanent: the retry policy only covers failures explicitly marked
// Transient by the collaborator boundary.
func KindOf(err error) Kind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
