package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewMetrics(registry), registry
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering metrics twice on one registry")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_CSVCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.AddCSVRecordsEncoded("orders", "csv", 10)
	m.AddCSVRecordsEncoded("orders", "csv", 5)
	m.AddCSVRecordsEncoded("orders", "parquet", 2)
	m.IncCSVEncodeErrors("orders", "csv")
	m.AddCSVEmptyFields("orders", 4)
	m.AddCSVEmptyFields("orders", 0)

	if got := testutil.ToFloat64(m.CSVRecordsEncoded.WithLabelValues("orders", "csv")); got != 15 {
		t.Errorf("csv_records_encoded_total{csv} = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.CSVRecordsEncoded.WithLabelValues("orders", "parquet")); got != 2 {
		t.Errorf("csv_records_encoded_total{parquet} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CSVEncodeErrors.WithLabelValues("orders", "csv")); got != 1 {
		t.Errorf("csv_encode_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CSVEmptyFields.WithLabelValues("orders")); got != 4 {
		t.Errorf("csv_empty_fields_total = %v, want 4", got)
	}
}

func TestMetrics_ConsumerMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.IncMessagesConsumed("orders", 0)
	m.IncMessagesConsumed("orders", 0)
	m.IncMessagesConsumed("orders", 1)
	m.SetConsumerLag("orders", 0, 42)
	m.SetConsumerLag("orders", 1, -3)
	m.SetPartitionsAssigned("orders", 6)
	m.IncRebalances("archiver")
	m.IncOffsetCommits("orders", 0, "success")
	m.ObserveCommitLatency("orders", 0, 0.02)
	m.IncDLQMessages("orders", "validation_failed")

	if got := testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("orders", "0")); got != 2 {
		t.Errorf("messages consumed p0 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConsumerLag.WithLabelValues("orders", "0")); got != 42 {
		t.Errorf("lag p0 = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.ConsumerLag.WithLabelValues("orders", "1")); got != 0 {
		t.Errorf("negative lag should clamp to 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.PartitionsAssigned.WithLabelValues("orders")); got != 6 {
		t.Errorf("partitions assigned = %v, want 6", got)
	}
	if got := testutil.ToFloat64(m.DLQMessages.WithLabelValues("orders", "validation_failed")); got != 1 {
		t.Errorf("dlq messages = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.CommitLatency); got != 1 {
		t.Errorf("commit latency series = %d, want 1", got)
	}
}

func TestMetrics_ProcessingAndStorage(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.IncEventsProcessed("orders", 2, "success")
	m.IncEventsProcessed("orders", 2, "invalid")
	m.SetBufferStats("orders", 2, 12, 4096)
	m.IncFilesWritten("orders", 2, "csv", "success")
	m.ObserveFileSize("orders", "csv", 1<<20)
	m.ObserveStorageWriteDuration("orders", 2, 0.5)
	m.IncStorageErrors("s3", "upload")
	m.IncStorageRetries("orders")

	if got := testutil.ToFloat64(m.BufferRecordCount.WithLabelValues("orders", "2")); got != 12 {
		t.Errorf("buffer records = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.BufferSize.WithLabelValues("orders", "2")); got != 4096 {
		t.Errorf("buffer bytes = %v, want 4096", got)
	}
	if got := testutil.CollectAndCount(m.EventsProcessed); got != 2 {
		t.Errorf("events processed series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.StorageErrors.WithLabelValues("s3", "upload")); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StorageRetries.WithLabelValues("orders")); got != 1 {
		t.Errorf("storage retries = %v, want 1", got)
	}
}

func TestMetrics_ConcurrentUpdates(t *testing.T) {
	m, _ := newTestMetrics(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.AddCSVRecordsEncoded("orders", "csv", 1)
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(m.CSVRecordsEncoded.WithLabelValues("orders", "csv")); got != 8000 {
		t.Errorf("records encoded = %v, want 8000", got)
	}
}

func TestPartitionLabel(t *testing.T) {
	if got := partitionLabel(17); got != "17" {
		t.Errorf("partitionLabel(17) = %q", got)
	}
}
