// Package agenterrors provides the error classification shared by agents, queues and the orchestrator.
package agenterrors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an orchestration error.
type Kind int8

const (
	// KindValidation covers malformed messages, duplicate or unknown agent names and bad config.
	KindValidation Kind = iota
	// KindTimeout means processing exceeded the configured timeout.
	KindTimeout
	// KindQueueFull means a queue capacity was exceeded.
	KindQueueFull
	// KindOperation covers circuit-open rejections, routing failures and missing targets.
	KindOperation
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindTimeout:
		return "TIMEOUT"
	case KindQueueFull:
		return "QUEUE_FULL"
	case KindOperation:
		return "OPERATION"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified orchestration error.
type Error struct {
	Err     error  // Wrapped underlying error
	Op      string // Operation or context the error was raised in
	Message string // Human-readable error message
	Kind    Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if an error, or any classified error it wraps, is of a specific kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var classified *Error
		if !errors.As(err, &classified) {
			return false
		}
		if classified.Kind == kind {
			return true
		}
		err = classified.Err
	}
	return false
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors report KindOperation.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindOperation
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping cause.
func Wrap(kind Kind, op string, cause error, message string) *Error {
	return &Error{Kind: kind, Op: op, Err: cause, Message: message}
}

// Validation is shorthand for a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return Newf(KindValidation, op, format, args...)
}

// QueueFull is shorthand for a KindQueueFull error.
func QueueFull(op string, capacity int) *Error {
	return Newf(KindQueueFull, op, "queue is full (capacity %d)", capacity)
}
