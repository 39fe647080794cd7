// Package storage defines interfaces for writing projected event files to
// storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"

	"github.com/jittakal/kafcsvstore/pkg/event"
)

// WriteResult describes a file that reached storage.
type WriteResult struct {
	// Location is the full URI of the written object.
	Location string
	Format   event.FileFormat
	Stats    event.FileStats
}

// Writer encodes batches of records and writes them to storage.
type Writer interface {
	// Write encodes records into one file below path. The file name is
	// chosen by the writer.
	Write(ctx context.Context, records []event.Record, path string) (*WriteResult, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage paths for events based on partitioning strategy.
type Router interface {
	// Route returns the storage path for a partition at a given time.
	// timestamp: Unix timestamp (seconds) representing the event time
	// specVersion: CloudEvents spec version (e.g., "1.0") for dynamic versioning, empty string uses default
	Route(partitionID event.PartitionID, timestamp int64, specVersion string) string
}

// RotationPolicy determines when to rotate (flush) buffered events to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if the buffer should be flushed based on stats.
	ShouldRotate(stats event.FileStats) bool
}
