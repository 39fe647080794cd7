package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/buffer"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var (
	_ buffer.Buffer  = (*PartitionBuffer)(nil)
	_ buffer.Manager = (*Manager)(nil)
)

// initialCapacity caps the preallocation for large maxRecords settings.
const initialCapacity = 1024

// PartitionBuffer buffers records for a single Kafka partition.
// It enforces record count and byte limits and tracks first and last write
// times for rotation decisions.
type PartitionBuffer struct {
	partitionID    event.PartitionID
	records        []event.Record
	maxSizeBytes   int64
	maxRecords     int
	currentSize    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
	mu             sync.RWMutex
}

// New creates a new partition buffer. A zero maxSizeBytes or maxRecords
// disables that limit.
func New(partitionID event.PartitionID, maxSizeBytes int64, maxRecords int) *PartitionBuffer {
	b := &PartitionBuffer{
		partitionID:  partitionID,
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
	b.reset()
	return b
}

// Add adds a record to the buffer.
func (b *PartitionBuffer) Add(record event.Record) error {
	recordSize := int64(estimateSize(record))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	// An oversized record is still accepted into an empty buffer.
	if b.maxSizeBytes > 0 && len(b.records) > 0 && b.currentSize+recordSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, record)
	b.currentSize += recordSize

	now := time.Now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all records from the buffer.
// The returned slice is owned by the caller.
func (b *PartitionBuffer) Drain() []event.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.reset()
	return records
}

// Stats returns current buffer statistics.
func (b *PartitionBuffer) Stats() event.FileStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return event.FileStats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *PartitionBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *PartitionBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *PartitionBuffer) reset() {
	capacity := b.maxRecords
	if capacity <= 0 || capacity > initialCapacity {
		capacity = initialCapacity
	}
	b.records = make([]event.Record, 0, capacity)
	b.currentSize = 0
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// estimateSize approximates the bytes a record contributes to an output
// file. Records with a LogEvent are measured by their values, others by
// their CloudEvent envelope and payload.
func estimateSize(record event.Record) int {
	if record.Log != nil {
		return valueSize(record.Log.Fields()) + valueSize(record.Log.Metadata())
	}

	size := len(record.Kafka.Topic) + len(record.Kafka.Key)
	for k, v := range record.Kafka.Headers {
		size += len(k) + len(v)
	}

	ce := record.Event
	if ce == nil {
		return size
	}

	size += len(ce.ID) + len(ce.Source) + len(ce.SpecVersion) + len(ce.Type)
	for _, s := range []*string{ce.DataContentType, ce.DataSchema, ce.Subject} {
		if s != nil {
			size += len(*s)
		}
	}
	return size + len(ce.Data)
}

func valueSize(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return len(t)
	case []byte:
		return len(t)
	case bool:
		return 5
	case time.Time:
		return 24
	case map[string]any:
		size := 0
		for k, child := range t {
			size += len(k) + valueSize(child)
		}
		return size
	case []any:
		size := 0
		for _, child := range t {
			size += valueSize(child)
		}
		return size
	default:
		// numbers and anything else rendered as a short token
		return 8
	}
}

// Manager manages buffers for multiple Kafka partitions.
// It provides thread-safe access to partition-specific buffers, creating them on-demand.
// Uses double-checked locking for efficient concurrent access.
type Manager struct {
	buffers      map[event.PartitionID]*PartitionBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[event.PartitionID]*PartitionBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns a buffer for the partition, creating if needed.
func (m *Manager) GetOrCreate(partitionID event.PartitionID) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[partitionID]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if buf, exists := m.buffers[partitionID]; exists {
		return buf
	}

	buf = New(partitionID, m.maxSizeBytes, m.maxRecords)
	m.buffers[partitionID] = buf
	return buf
}

// Range calls fn for each buffer in topic, partition order. fn runs without
// the manager lock held, so it may call GetOrCreate or Remove.
func (m *Manager) Range(fn func(partitionID event.PartitionID, buf buffer.Buffer) bool) {
	m.mu.RLock()
	ids := make([]event.PartitionID, 0, len(m.buffers))
	bufs := make(map[event.PartitionID]*PartitionBuffer, len(m.buffers))
	for id, buf := range m.buffers {
		ids = append(ids, id)
		bufs[id] = buf
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Topic != ids[j].Topic {
			return ids[i].Topic < ids[j].Topic
		}
		return ids[i].Partition < ids[j].Partition
	})

	for _, id := range ids {
		if !fn(id, bufs[id]) {
			return
		}
	}
}

// Remove drops a partition buffer and returns the records it still held.
func (m *Manager) Remove(partitionID event.PartitionID) []event.Record {
	m.mu.Lock()
	buf, exists := m.buffers[partitionID]
	delete(m.buffers, partitionID)
	m.mu.Unlock()

	if !exists {
		return nil
	}
	return buf.Drain()
}
