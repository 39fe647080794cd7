package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	ConsumerLag        *prometheus.GaugeVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec
	CommitLatency      *prometheus.HistogramVec
	DLQMessages        *prometheus.CounterVec

	// Processing metrics
	EventsProcessed   *prometheus.CounterVec
	BufferSize        *prometheus.GaugeVec
	BufferRecordCount *prometheus.GaugeVec

	// CSV projection metrics
	CSVRecordsEncoded *prometheus.CounterVec
	CSVEncodeErrors   *prometheus.CounterVec
	CSVEmptyFields    *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
	StorageRetries       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	topicPartition := []string{"topic", "partition"}

	return &Metrics{
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			topicPartition,
		),
		ConsumerLag: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_consumer_lag",
				Help: "Messages between the last consumed offset and the partition high watermark",
			},
			topicPartition,
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_commit_latency_seconds",
				Help:    "Latency of offset commit operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			topicPartition,
		),
		DLQMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_dlq_messages_total",
				Help: "Total number of messages sent to the dead letter queue",
			},
			[]string{"topic", "reason"},
		),

		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_processed_total",
				Help: "Total number of events processed",
			},
			[]string{"topic", "partition", "status"},
		),
		BufferSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_size_bytes",
				Help: "Current estimated buffer size in bytes",
			},
			topicPartition,
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_record_count",
				Help: "Current number of records in buffer",
			},
			topicPartition,
		),

		CSVRecordsEncoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csv_records_encoded_total",
				Help: "Total number of records projected into output files",
			},
			[]string{"topic", "format"},
		),
		CSVEncodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csv_encode_errors_total",
				Help: "Total number of batches that failed to encode",
			},
			[]string{"topic", "format"},
		),
		CSVEmptyFields: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csv_empty_fields_total",
				Help: "Total number of projected fields that were absent or null",
			},
			[]string{"topic"},
		),

		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"topic", "partition", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			topicPartition,
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10), // 64KiB to 16GiB
			},
			[]string{"topic", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "operation"},
		),
		StorageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_retries_total",
				Help: "Total number of retried storage writes",
			},
			[]string{"topic"},
		),
	}
}

func partitionLabel(partition int32) string {
	return strconv.FormatInt(int64(partition), 10)
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

// SetConsumerLag records the distance to the partition high watermark.
func (m *Metrics) SetConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	m.ConsumerLag.WithLabelValues(topic, partitionLabel(partition)).Set(float64(lag))
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(topic string, partition int32, seconds float64) {
	m.CommitLatency.WithLabelValues(topic, partitionLabel(partition)).Observe(seconds)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count int) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(float64(count))
}

// IncDLQMessages counts a message routed to the dead letter queue.
func (m *Metrics) IncDLQMessages(topic, reason string) {
	m.DLQMessages.WithLabelValues(topic, reason).Inc()
}

// IncEventsProcessed counts an event by outcome.
func (m *Metrics) IncEventsProcessed(topic string, partition int32, status string) {
	m.EventsProcessed.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// SetBufferStats publishes the current buffer occupancy for a partition.
func (m *Metrics) SetBufferStats(topic string, partition int32, records int, sizeBytes int64) {
	p := partitionLabel(partition)
	m.BufferRecordCount.WithLabelValues(topic, p).Set(float64(records))
	m.BufferSize.WithLabelValues(topic, p).Set(float64(sizeBytes))
}

// AddCSVRecordsEncoded adds the records of a written file.
func (m *Metrics) AddCSVRecordsEncoded(topic, format string, records int) {
	m.CSVRecordsEncoded.WithLabelValues(topic, format).Add(float64(records))
}

// IncCSVEncodeErrors counts a batch that failed to encode.
func (m *Metrics) IncCSVEncodeErrors(topic, format string) {
	m.CSVEncodeErrors.WithLabelValues(topic, format).Inc()
}

// AddCSVEmptyFields adds the empty projected fields of a written file.
func (m *Metrics) AddCSVEmptyFields(topic string, fields int) {
	if fields <= 0 {
		return
	}
	m.CSVEmptyFields.WithLabelValues(topic).Add(float64(fields))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(topic string, partition int32, format string, status string) {
	m.FilesWritten.WithLabelValues(topic, partitionLabel(partition), format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(topic, format string, size int64) {
	m.FileSize.WithLabelValues(topic, format).Observe(float64(size))
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(topic string, partition int32, seconds float64) {
	m.StorageWriteDuration.WithLabelValues(topic, partitionLabel(partition)).Observe(seconds)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncStorageRetries counts a retried write.
func (m *Metrics) IncStorageRetries(topic string) {
	m.StorageRetries.WithLabelValues(topic).Inc()
}
