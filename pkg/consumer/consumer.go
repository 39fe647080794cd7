// Package consumer defines interfaces for Kafka event consumption.
//
// This package provides abstractions for consuming events from Kafka,
// committing processed offsets and routing failures to a dead letter queue.
package consumer

import (
	"context"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Dead letter reasons.
const (
	ReasonValidationFailed = "validation_failed"
	ReasonDecodeFailed     = "decode_failed"
	ReasonStorageFailed    = "storage_failed"
)

// Consumer reads events from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming messages from subscribed topics.
	// Returns channels for events and errors.
	Consume(ctx context.Context) (<-chan *event.ConsumedEvent, <-chan error, error)

	// Commit marks every offset up to and including offset as processed.
	Commit(ctx context.Context, partition event.PartitionID, offset int64) error

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes failed events to a dead letter queue.
type DLQPublisher interface {
	// Publish sends a consumed message to the DLQ with the failure reason
	// and cause.
	Publish(ctx context.Context, consumed *event.ConsumedEvent, reason string, cause error) error

	// Close closes the publisher and releases resources.
	Close() error
}
