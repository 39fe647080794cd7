// Package event defines core event types and interfaces for CloudEvents processing.
//
// This package provides the public API for working with CloudEvents following the
// CloudEvents 1.0 specification, the Kafka metadata attached to them, and the
// keyed LogEvent view that CSV lines are projected from.
//
// # Core Types
//
// CloudEvent represents a CloudEvents 1.0 event with required and optional fields:
//
//	ce := &event.CloudEvent{
//	    ID:          "unique-event-id",
//	    Source:      "service-name",
//	    SpecVersion: "1.0",
//	    Type:        "com.example.event",
//	    Time:        &now,
//	    Data:        []byte(`{"key": "value"}`),
//	}
//
// Record combines a CloudEvent with Kafka metadata:
//
//	record := event.Record{
//	    Event: ce,
//	    Kafka: event.KafkaMetadata{Topic: "events", Partition: 0, Offset: 12345},
//	}
//
// # Log Events
//
// FromRecord flattens a Record into a LogEvent. Envelope attributes and
// extensions become top-level fields, the JSON payload lives under "data" and
// the Kafka coordinates live in the metadata:
//
//	log, err := event.FromRecord(record)
//	v, ok := log.Get(lookup.MustParse("data.user.id"))
//	topic, _ := log.Get(lookup.MustParse("%kafka.topic"))
//
// # File Formats
//
//	event.FormatCSV      // One delimited line per event (default)
//	event.FormatParquet  // Columnar format for analytics
//	event.FormatAvro     // Row-based format with schema
//
// # Time Utilities
//
//	eventTime := record.GetEventTime()      // Returns time.Time
//	unixTime := record.GetEventTimeUnix()   // Returns Unix timestamp
//
// The methods fall back to Kafka timestamp if CloudEvent.Time is not set.
package event
