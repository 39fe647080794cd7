// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Sentinel errors for common conditions.
var (
	ErrBufferFull     = errors.New("buffer is full")
	ErrConsumerClosed = errors.New("consumer is closed")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrWriterClosed   = errors.New("storage writer is closed")
	ErrConnectionLost = errors.New("connection lost")
	// ErrPartitionRevoked is returned when committing a partition this
	// consumer no longer owns.
	ErrPartitionRevoked = errors.New("partition revoked")
)

// MsgNoFields is the ConfigError message for an empty CSV projection.
const MsgNoFields = "At least one CSV field must be specified"

// ConfigError is returned when a serializer or encoder configuration is rejected.
// Error returns Message unchanged so callers can surface it verbatim.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// EncodeError is returned when an encoded line cannot be written to its sink.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to write CSV line: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ProcessingError represents an error while turning a consumed event into
// a stored line.
type ProcessingError struct {
	PartitionID event.PartitionID
	Offset      int64
	EventID     string
	Err         error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error: partition=%s offset=%d event_id=%s: %v",
		e.PartitionID, e.Offset, e.EventID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ValidationError represents an event validation failure.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: event_id=%s field=%s: %s",
		e.EventID, e.Field, e.Reason)
}

// Is makes every ValidationError match ErrInvalidEvent.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failed operation may succeed on another attempt.
// Encoding failures are not retryable; uploads, writes and file creation are.
func (e *StorageError) IsRetryable() bool {
	switch e.Operation {
	case "write", "upload", "create":
		return true
	default:
		return false
	}
}

// CommitError represents an offset commit failure.
type CommitError struct {
	PartitionID event.PartitionID
	Offset      int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: partition=%s offset=%d: %v",
		e.PartitionID, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Retryable is implemented by errors that know whether they are transient.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsRetryable determines if a ProcessingError is retryable.
func (e *ProcessingError) IsRetryable() bool {
	return IsRetryable(e.Err)
}
