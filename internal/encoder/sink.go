package encoder

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Compression names accepted by the encoders.
const (
	CompressionNone    = "none"
	CompressionGzip    = "gzip"
	CompressionZstd    = "zstd"
	CompressionLZ4     = "lz4"
	CompressionSnappy  = "snappy"
	CompressionDeflate = "deflate"
)

// normalizeCompression lowercases a compression name and maps the
// "uncompressed" spelling and the empty string to CompressionNone.
func normalizeCompression(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "uncompressed" {
		return CompressionNone
	}
	return name
}

// fileSink writes to a file while hashing and counting every byte that
// reaches it.
type fileSink struct {
	file   *os.File
	hasher *blake3.Hasher
	size   int64
}

func createFileSink(path string) (*fileSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &fileSink{file: file, hasher: blake3.New()}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	_, _ = s.hasher.Write(p[:n])
	s.size += int64(n)
	return n, err
}

// finish closes the file and returns its size and hex BLAKE3 digest. A file
// that fails to close is removed.
func (s *fileSink) finish() (int64, string, error) {
	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.file.Name())
		return 0, "", fmt.Errorf("failed to close file: %w", err)
	}
	return s.size, hex.EncodeToString(s.hasher.Sum(nil)), nil
}

// abort closes and removes a partially written file.
func (s *fileSink) abort() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// newCompressor wraps w with the named stream compression. Close must be
// called to flush the trailer; it does not close w.
func newCompressor(w io.Writer, compression string) (io.WriteCloser, error) {
	switch normalizeCompression(compression) {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported stream compression: %s", compression)
	}
}

// compressionSuffix returns the file name suffix for a stream compression.
func compressionSuffix(compression string) string {
	switch normalizeCompression(compression) {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// logOf returns the keyed view of a record, building it when the pipeline
// has not already done so.
func logOf(record event.Record) (*event.LogEvent, error) {
	if record.Log != nil {
		return record.Log, nil
	}
	return event.FromRecord(record)
}

// writeWindow returns the earliest and latest processing times of records.
func writeWindow(records []event.Record) (time.Time, time.Time) {
	var first, last time.Time
	for _, r := range records {
		if r.ProcessedAt.IsZero() {
			continue
		}
		if first.IsZero() || r.ProcessedAt.Before(first) {
			first = r.ProcessedAt
		}
		if r.ProcessedAt.After(last) {
			last = r.ProcessedAt
		}
	}
	if first.IsZero() {
		now := time.Now()
		return now, now
	}
	return first, last
}
