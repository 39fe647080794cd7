package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrConsumerClosed", ErrConsumerClosed},
		{"ErrInvalidEvent", ErrInvalidEvent},
		{"ErrBufferFull", ErrBufferFull},
		{"ErrWriterClosed", ErrWriterClosed},
		{"ErrConnectionLost", ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("%s should not be nil", tt.name)
			}
			if tt.err.Error() == "" {
				t.Errorf("%s should have an error message", tt.name)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := error(&ConfigError{Message: MsgNoFields})

	if got := err.Error(); got != "At least one CSV field must be specified" {
		t.Errorf("Error() = %q", got)
	}

	var cfgErr *ConfigError
	if !errors.As(fmt.Errorf("build: %w", err), &cfgErr) {
		t.Error("wrapped ConfigError should be found by errors.As")
	}
	if IsRetryable(err) {
		t.Error("ConfigError should not be retryable")
	}
}

func TestEncodeError(t *testing.T) {
	err := &EncodeError{Err: io.ErrShortWrite}

	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("EncodeError should wrap the write error")
	}
	if err.Error() != "failed to write CSV line: short write" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestProcessingError(t *testing.T) {
	baseErr := errors.New("base error")
	procErr := &ProcessingError{
		PartitionID: event.PartitionID{Topic: "test", Partition: 0},
		Offset:      100,
		EventID:     "event-123",
		Err:         baseErr,
	}

	want := "processing error: partition=test-0 offset=100 event_id=event-123: base error"
	if procErr.Error() != want {
		t.Errorf("Error() = %q, want %q", procErr.Error(), want)
	}
	if !errors.Is(procErr, baseErr) {
		t.Error("ProcessingError should wrap base error")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		EventID: "test-123",
		Field:   "source",
		Reason:  "required field missing",
	}

	want := "validation error: event_id=test-123 field=source: required field missing"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrInvalidEvent) {
		t.Error("ValidationError should match ErrInvalidEvent")
	}
}

func TestStorageError(t *testing.T) {
	baseErr := errors.New("disk full")
	storageErr := &StorageError{
		Operation: "write",
		Path:      "/data/events.csv",
		Err:       baseErr,
	}

	if storageErr.Error() == "" {
		t.Error("StorageError should have an error message")
	}
	if !errors.Is(storageErr, baseErr) {
		t.Error("StorageError should wrap base error")
	}
}

func TestCommitError(t *testing.T) {
	baseErr := errors.New("commit failed")
	commitErr := &CommitError{
		PartitionID: event.PartitionID{Topic: "test", Partition: 0},
		Offset:      200,
		Err:         baseErr,
	}

	if commitErr.Error() == "" {
		t.Error("CommitError should have an error message")
	}
	if !errors.Is(commitErr, baseErr) {
		t.Error("CommitError should wrap base error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "storage write is retryable",
			err:  &StorageError{Operation: "write", Path: "/tmp/file", Err: errors.New("failed")},
			want: true,
		},
		{
			name: "storage encode is not retryable",
			err:  &StorageError{Operation: "encode", Path: "/tmp/file", Err: errors.New("failed")},
			want: false,
		},
		{
			name: "wrapped storage upload is retryable",
			err:  fmt.Errorf("flush: %w", &StorageError{Operation: "upload", Err: errors.New("503")}),
			want: true,
		},
		{
			name: "processing error delegates to cause",
			err:  &ProcessingError{Err: ErrConnectionLost},
			want: true,
		},
		{
			name: "connection lost is retryable",
			err:  ErrConnectionLost,
			want: true,
		},
		{
			name: "validation error is not retryable",
			err:  &ValidationError{EventID: "123", Field: "source", Reason: "missing"},
			want: false,
		},
		{
			name: "generic error is not retryable",
			err:  errors.New("generic error"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
