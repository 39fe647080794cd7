package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/jittakal/kafcsvstore/internal/codec"
	"github.com/jittakal/kafcsvstore/internal/encoder"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

// mockMetricsCollector implements MetricsCollector for testing.
type mockMetricsCollector struct {
	mu               sync.Mutex
	filesWritten     map[string]int
	fileSizes        []int64
	storageErrors    map[string]int
	recordsEncoded   int
	encodeErrors     int
	emptyFields      int
	storageDurations int
}

func newMockMetrics() *mockMetricsCollector {
	return &mockMetricsCollector{
		filesWritten:  make(map[string]int),
		storageErrors: make(map[string]int),
	}
}

func (m *mockMetricsCollector) IncFilesWritten(topic string, partition int32, format string, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filesWritten[status]++
}

func (m *mockMetricsCollector) ObserveFileSize(topic, format string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileSizes = append(m.fileSizes, size)
}

func (m *mockMetricsCollector) ObserveStorageWriteDuration(topic string, partition int32, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageDurations++
}

func (m *mockMetricsCollector) IncStorageErrors(backend string, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageErrors[backend+"/"+operation]++
}

func (m *mockMetricsCollector) AddCSVRecordsEncoded(topic, format string, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsEncoded += records
}

func (m *mockMetricsCollector) IncCSVEncodeErrors(topic, format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encodeErrors++
}

func (m *mockMetricsCollector) AddCSVEmptyFields(topic string, fields int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyFields += fields
}

func newTestFactory(t *testing.T, format event.FileFormat, compression string) *encoder.Factory {
	t.Helper()
	opts := codec.DefaultCSVSerializerOptions()
	opts.Fields = []lookup.Path{
		lookup.MustParse(".id"),
		lookup.MustParse(".data.user"),
		lookup.MustParse(".data.amount"),
	}
	serializer, err := codec.CSVSerializerConfig{CSV: opts}.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return encoder.NewFactory(format, compression, serializer, encoder.CSVOptions{})
}

func testRecords(n int) []event.Record {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := make([]event.Record, n)
	for i := range records {
		records[i] = event.Record{
			Event: &event.CloudEvent{
				ID:          "evt-" + string(rune('a'+i)),
				Source:      "orders",
				SpecVersion: "1.0",
				Type:        "order.created",
				Data:        []byte(`{"user":"ada","amount":12.5}`),
			},
			Kafka: event.KafkaMetadata{
				Topic:     "orders",
				Partition: 2,
				Offset:    int64(i),
				Timestamp: now,
			},
			Offset:      int64(i),
			ProcessedAt: now,
		}
	}
	return records
}
