package encoder

import (
	"testing"
	"time"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

func newTestSerializer(tb testing.TB, fields ...string) *codec.CSVSerializer {
	tb.Helper()
	paths, err := lookup.ParseAll(fields)
	if err != nil {
		tb.Fatalf("ParseAll() error = %v", err)
	}
	opts := codec.DefaultCSVSerializerOptions()
	opts.Fields = paths
	s, err := codec.CSVSerializerConfig{CSV: opts}.Build()
	if err != nil {
		tb.Fatalf("Build() error = %v", err)
	}
	return s
}

func stringPtr(s string) *string {
	return &s
}

// testRecords returns two events: the first fully populated, the second
// with a comma in its subject and no data.
func testRecords() []event.Record {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return []event.Record{
		{
			Event: &event.CloudEvent{
				SpecVersion:     "1.0",
				ID:              "test-id-1",
				Source:          "test-source",
				Type:            "test.event",
				Subject:         stringPtr("test-subject"),
				DataContentType: stringPtr("application/json"),
				Time:            &now,
				Data:            []byte(`{"message": "test data 1", "count": 3}`),
			},
			Kafka: event.KafkaMetadata{
				Topic:     "test-topic",
				Partition: 0,
				Offset:    100,
				Timestamp: now,
			},
			Offset:      100,
			ProcessedAt: now,
		},
		{
			Event: &event.CloudEvent{
				SpecVersion: "1.0",
				ID:          "test-id-2",
				Source:      "test-source",
				Type:        "test.event",
				Subject:     stringPtr("a,b"),
			},
			Kafka: event.KafkaMetadata{
				Topic:     "test-topic",
				Partition: 0,
				Offset:    101,
				Timestamp: now,
			},
			Offset:      101,
			ProcessedAt: now.Add(time.Second),
		},
	}
}
