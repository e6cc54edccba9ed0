// Package errors carries the run's error taxonomy as cockroachdb/errors marks.
//
// Non-fatal classes (skipped records, missing cohorts, guarded divisions) mark the
// warnings a successful run reports and logs. Fatal classes abort a run before anything
// is published.
package errors

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrSkippedRecord              = errors.New("skipped record")
	ErrMissingCohort              = errors.New("missing cohort")
	ErrGuardedDivision            = errors.New("guarded division")
	ErrReferenceSourceUnavailable = errors.New("reference source unavailable")
	ErrEventSourceUnavailable     = errors.New("event source unavailable")
	ErrWriteTransactionFailure    = errors.New("write transaction failure")
	ErrValidation                 = errors.New("validation error")
	ErrRunInProgress              = errors.New("run in progress")
)

// Builder accumulates context before marking an error with a taxonomy class.
type Builder struct {
	err error
}

// NewError starts a builder from a message.
func NewError(msg string) *Builder {
	return &Builder{err: errors.New(msg)}
}

// WithError starts a builder from an existing error.
func WithError(err error) *Builder {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &Builder{err: err}
}

func (b *Builder) WithMessage(msg string) *Builder {
	b.err = errors.Wrap(b.err, msg)
	return b
}

func (b *Builder) WithMessagef(format string, args ...interface{}) *Builder {
	b.err = errors.Wrapf(b.err, format, args...)
	return b
}

// WithHint attaches a user-facing hint.
func (b *Builder) WithHint(hint string) *Builder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *Builder) WithHintf(format string, args ...interface{}) *Builder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// Mark tags the error with a class so errors.Is matches it.
func (b *Builder) Mark(class error) error {
	return errors.Mark(b.err, class)
}

func Is(err, class error) bool { return errors.Is(err, class) }

func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Hint flattens all hints attached to err.
func Hint(err error) string { return errors.FlattenHints(err) }

// IsFatal reports whether err belongs to a class that aborts a run.
func IsFatal(err error) bool {
	return Is(err, ErrReferenceSourceUnavailable) ||
		Is(err, ErrEventSourceUnavailable) ||
		Is(err, ErrWriteTransactionFailure)
}
