package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/kafcsvstore/internal/encoder"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Object metadata keys attached to every written file.
const (
	MetaChecksum    = "checksum-blake3"
	MetaRecordCount = "record-count"
	MetaFormat      = "format"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(topic string, partition int32, format string, status string)
	ObserveFileSize(topic, format string, size int64)
	ObserveStorageWriteDuration(topic string, partition int32, seconds float64)
	IncStorageErrors(backend string, operation string)
	AddCSVRecordsEncoded(topic, format string, records int)
	IncCSVEncodeErrors(topic, format string)
	AddCSVEmptyFields(topic string, fields int)
}

// objectName returns events_<YYYYMMDD_HHMMSS>_<8 hex><ext>. The random part
// keeps names unique across writers and restarts within the same second.
func objectName(now time.Time, ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("events_%s_%s%s", now.UTC().Format("20060102_150405"), id[:8], ext)
}

// objectKey strips "scheme://bucket/" from a routed path. Paths without the
// scheme are returned as-is, minus any leading slash.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, "/")
	}
	rest := strings.TrimPrefix(path, prefix)
	if _, key, ok := strings.Cut(rest, "/"); ok {
		return key
	}
	return ""
}

// joinKey appends name to a directory key.
func joinKey(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

// contentType maps an encoder extension to the object content type.
func contentType(format event.FileFormat, ext string) string {
	switch {
	case strings.HasSuffix(ext, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(ext, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(ext, ".lz4"):
		return "application/x-lz4"
	}

	switch format {
	case event.FormatCSV:
		if strings.HasPrefix(ext, ".tsv") {
			return "text/tab-separated-values"
		}
		return "text/csv"
	case event.FormatAvro:
		return "application/avro"
	default:
		return "application/octet-stream"
	}
}

// objectMetadata describes a written file for object stores.
func objectMetadata(format event.FileFormat, stats *event.FileStats) map[string]string {
	return map[string]string{
		MetaChecksum:    stats.Checksum,
		MetaRecordCount: strconv.Itoa(stats.RecordCount),
		MetaFormat:      string(format),
	}
}

// stagedFile is an encoded batch waiting to be uploaded.
type stagedFile struct {
	path        string
	name        string
	format      event.FileFormat
	contentType string
	stats       *event.FileStats
}

func (s *stagedFile) open() (*os.File, error) {
	return os.Open(s.path)
}

func (s *stagedFile) remove() {
	_ = os.Remove(s.path)
}

// writerBase holds what every backend shares: the encoder factory, temp
// staging and metrics.
type writerBase struct {
	backend string
	factory *encoder.Factory
	tempDir string
	logger  *slog.Logger
	metrics MetricsCollector
}

func newWriterBase(backend string, factory *encoder.Factory, tempDir string, logger *slog.Logger, metrics MetricsCollector) (writerBase, error) {
	if factory == nil {
		return writerBase{}, fmt.Errorf("%s writer requires an encoder factory", backend)
	}
	if _, err := factory.CreateEncoder(); err != nil {
		return writerBase{}, fmt.Errorf("failed to create encoder: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return writerBase{
		backend: backend,
		factory: factory,
		tempDir: tempDir,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// encodeTo encodes records into dir under a fresh object name, hidden with a
// ".tmp" suffix when temp is set. Encoders remove partial output on failure.
func (b *writerBase) encodeTo(dir string, records []event.Record, temp bool) (*stagedFile, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to write")
	}
	topic := records[0].Kafka.Topic

	enc, err := b.factory.CreateEncoder()
	if err != nil {
		b.incError("encoder_create")
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	ext := enc.FileExtension()
	name := objectName(time.Now(), ext)

	target := filepath.Join(dir, name)
	if temp {
		target = filepath.Join(dir, "."+name+".tmp")
	}

	stats, err := enc.Encode(target, records)
	if err != nil {
		b.incError("encode")
		if b.metrics != nil {
			b.metrics.IncCSVEncodeErrors(topic, string(enc.Format()))
		}
		return nil, &apperrors.StorageError{Operation: "encode", Path: target, Err: err}
	}

	if b.metrics != nil {
		b.metrics.AddCSVRecordsEncoded(topic, string(enc.Format()), stats.RecordCount)
		b.metrics.AddCSVEmptyFields(topic, stats.EmptyFields)
	}

	return &stagedFile{
		path:        target,
		name:        name,
		format:      enc.Format(),
		contentType: contentType(enc.Format(), ext),
		stats:       stats,
	}, nil
}

// stage encodes records into the temp directory for upload.
func (b *writerBase) stage(records []event.Record) (*stagedFile, error) {
	return b.encodeTo(b.tempDir, records, true)
}

func (b *writerBase) incError(operation string) {
	if b.metrics != nil {
		b.metrics.IncStorageErrors(b.backend, operation)
	}
}

// finish logs and records a successful write.
func (b *writerBase) finish(records []event.Record, staged *stagedFile, location string, started time.Time) *storage.WriteResult {
	duration := time.Since(started)
	topic := records[0].Kafka.Topic
	partition := records[0].Kafka.Partition

	b.logger.Info("wrote records",
		"backend", b.backend,
		"location", location,
		"record_count", staged.stats.RecordCount,
		"file_size", staged.stats.SizeBytes,
		"empty_fields", staged.stats.EmptyFields,
		"checksum", staged.stats.Checksum,
		"format", staged.format,
		"total_duration_ms", duration.Milliseconds(),
	)

	if b.metrics != nil {
		b.metrics.IncFilesWritten(topic, partition, string(staged.format), "success")
		b.metrics.ObserveFileSize(topic, string(staged.format), staged.stats.SizeBytes)
		b.metrics.ObserveStorageWriteDuration(topic, partition, duration.Seconds())
	}

	return &storage.WriteResult{
		Location: location,
		Format:   staged.format,
		Stats:    *staged.stats,
	}
}

// fail records a failed write.
func (b *writerBase) fail(records []event.Record, operation string) {
	b.incError(operation)
	if b.metrics != nil && len(records) > 0 {
		b.metrics.IncFilesWritten(records[0].Kafka.Topic, records[0].Kafka.Partition, string(b.factory.Format()), "failure")
	}
}
