package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// CloudEvent represents a CloudEvents 1.0 event.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md
type CloudEvent struct {
	// Required attributes
	ID          string `json:"id"`
	Source      string `json:"source"`
	SpecVersion string `json:"specversion"`
	Type        string `json:"type"`

	// Optional attributes
	DataContentType *string    `json:"datacontenttype,omitempty"`
	DataSchema      *string    `json:"dataschema,omitempty"`
	Subject         *string    `json:"subject,omitempty"`
	Time            *time.Time `json:"time,omitempty"`

	// Event data - can be any JSON value (object, array, string, number, etc.)
	Data json.RawMessage `json:"data,omitempty"`

	// Extension attributes, populated by the Kafka consumer.
	Extensions map[string]interface{} `json:"-"`
}

// KafkaMetadata contains Kafka-specific metadata for an event.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// Record represents a processed event ready for storage.
// Log is the keyed view of the event that file encoders project fields from.
type Record struct {
	Event       *CloudEvent
	Kafka       KafkaMetadata
	Offset      int64
	ProcessedAt time.Time
	Log         *LogEvent
}

// FileStats contains statistics about buffered or written events.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
	// Checksum is the hex BLAKE3 digest of the written file. Empty for buffers.
	Checksum string
	// EmptyFields counts projected fields that rendered as empty text.
	EmptyFields int
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// ParseFileFormat converts a configuration value into a FileFormat.
func ParseFileFormat(s string) (FileFormat, error) {
	switch FileFormat(s) {
	case FormatCSV, FormatParquet, FormatAvro:
		return FileFormat(s), nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", s)
	}
}

// Validator validates CloudEvents.
type Validator interface {
	// Validate checks if a CloudEvent is valid against the CloudEvents 1.0 attribute rules.
	Validate(event *CloudEvent) error
}

// ConsumedEvent represents a message consumed from Kafka. When the message
// could not be decoded as a CloudEvent, Event is nil, DecodeErr holds the
// cause and Raw the original message value.
type ConsumedEvent struct {
	Event     *CloudEvent
	Metadata  KafkaMetadata
	Raw       []byte
	DecodeErr error
}

// PartitionID returns the partition the event was consumed from.
func (c *ConsumedEvent) PartitionID() PartitionID {
	return PartitionID{Topic: c.Metadata.Topic, Partition: c.Metadata.Partition}
}

// GetEventTime returns the event's timestamp.
// It returns the CloudEvent.Time if present, otherwise falls back to Kafka message timestamp.
func (r *Record) GetEventTime() time.Time {
	if r.Event != nil && r.Event.Time != nil {
		return *r.Event.Time
	}
	return r.Kafka.Timestamp
}

// GetEventTimeUnix returns the event's timestamp as Unix seconds.
func (r *Record) GetEventTimeUnix() int64 {
	return r.GetEventTime().Unix()
}
