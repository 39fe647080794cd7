// Package buffer provides thread-safe, per-partition batching of records
// before they are encoded into CSV, Parquet or Avro files.
//
// # PartitionBuffer
//
// PartitionBuffer holds records for a single Kafka partition and enforces a
// record count and an estimated byte limit. Either limit is disabled by
// passing zero:
//
//	buf := buffer.New(partitionID, 64<<20, 100000)
//
//	if err := buf.Add(record); errors.Is(err, apperrors.ErrBufferFull) {
//	    flush(buf.Drain())
//	    _ = buf.Add(record)
//	}
//
// A record larger than the byte limit is still accepted into an empty
// buffer, so a single oversized event never blocks a partition.
//
// # Size Estimation
//
// The byte count approximates the projected output rather than the Kafka
// payload. Records carrying a LogEvent are measured by key and value sizes
// (strings by length, numbers as 8, timestamps as 24); other records fall
// back to the CloudEvent envelope and data.
//
// # Manager
//
// Manager creates buffers on demand and lets the flush loop visit them:
//
//	manager := buffer.NewManager(maxSizeBytes, maxRecords)
//	manager.GetOrCreate(partitionID).Add(record)
//
//	manager.Range(func(id event.PartitionID, buf buffer.Buffer) bool {
//	    if shouldRotate(buf.Stats()) {
//	        flush(id, buf.Drain())
//	    }
//	    return true
//	})
//
// Remove drops a revoked partition and hands back whatever it still held.
// Range visits buffers in topic, partition order without holding the
// manager lock, so the callback may call Remove.
//
// # Thread Safety
//
//   - Add, Drain and Reset take the buffer write lock
//   - Stats and IsEmpty take the read lock
//   - Manager.GetOrCreate uses double-checked locking
//
// Drain hands the backing slice to the caller and starts a new one, so the
// returned records are never overwritten by later writes.
package buffer
