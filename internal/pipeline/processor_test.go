package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jittakal/kafcsvstore/internal/buffer"
	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	internalstorage "github.com/jittakal/kafcsvstore/internal/storage"
	"github.com/jittakal/kafcsvstore/internal/validator"
	pkgbuffer "github.com/jittakal/kafcsvstore/pkg/buffer"
	"github.com/jittakal/kafcsvstore/pkg/consumer"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

var eventTime = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

type fakeWriter struct {
	mu    sync.Mutex
	errs  []error
	calls [][]event.Record
	paths []string
}

func (w *fakeWriter) Write(_ context.Context, records []event.Record, path string) (*storage.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = append(w.calls, records)
	w.paths = append(w.paths, path)
	if len(w.errs) > 0 {
		err := w.errs[0]
		w.errs = w.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &storage.WriteResult{
		Location: path + "events.csv",
		Format:   event.FormatCSV,
		Stats:    event.FileStats{RecordCount: len(records), SizeBytes: int64(10 * len(records))},
	}, nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) batches() [][]event.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]event.Record(nil), w.calls...)
}

type commit struct {
	partition event.PartitionID
	offset    int64
}

type fakeCommitter struct {
	mu      sync.Mutex
	err     error
	commits []commit
}

func (c *fakeCommitter) Commit(_ context.Context, partition event.PartitionID, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, commit{partition, offset})
	return c.err
}

func (c *fakeCommitter) offsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.commits))
	for i, cm := range c.commits {
		out[i] = cm.offset
	}
	return out
}

type dlqMessage struct {
	offset int64
	reason string
}

type fakeDLQ struct {
	mu       sync.Mutex
	err      error
	messages []dlqMessage
}

func (d *fakeDLQ) Publish(_ context.Context, consumed *event.ConsumedEvent, reason string, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, dlqMessage{consumed.Metadata.Offset, reason})
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

type fakeMetrics struct {
	mu      sync.Mutex
	status  map[string]int
	retries int
}

func (m *fakeMetrics) IncEventsProcessed(_ string, _ int32, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		m.status = make(map[string]int)
	}
	m.status[status]++
}

func (m *fakeMetrics) SetBufferStats(string, int32, int, int64) {}

func (m *fakeMetrics) IncStorageRetries(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

type harness struct {
	p         *Processor
	buffers   *buffer.Manager
	writer    *fakeWriter
	committer *fakeCommitter
	dlq       *fakeDLQ
	metrics   *fakeMetrics
	delays    []time.Duration
}

// newHarness builds a processor that rotates every maxRecords records.
func newHarness(t *testing.T, maxRecords int, withDLQ bool) *harness {
	t.Helper()

	h := &harness{
		buffers:   buffer.NewManager(0, 0),
		writer:    &fakeWriter{},
		committer: &fakeCommitter{},
		dlq:       &fakeDLQ{},
		metrics:   &fakeMetrics{},
	}
	components := Components{
		Validator: validator.NewCloudEventsValidator(),
		Buffers:   h.buffers,
		Policy:    internalstorage.NewPolicy(internalstorage.PolicyConfig{MaxRecordsPerFile: maxRecords, Strategy: "count"}),
		Router:    internalstorage.NewRouter("file", "", "", "v1"),
		Writer:    h.writer,
		Committer: h.committer,
	}
	if withDLQ {
		components.DLQ = h.dlq
	}

	p, err := New(Config{
		FlushInterval: time.Minute,
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
	}, components, slog.New(slog.NewTextHandler(io.Discard, nil)), h.metrics)
	require.NoError(t, err)

	p.sleep = func(_ context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	h.p = p
	return h
}

func consumedEvent(partition int32, offset int64, id string) *event.ConsumedEvent {
	ts := eventTime
	contentType := "application/json"
	return &event.ConsumedEvent{
		Event: &event.CloudEvent{
			ID:              id,
			Source:          "/orders",
			SpecVersion:     "1.0",
			Type:            "order.created",
			DataContentType: &contentType,
			Time:            &ts,
			Data:            json.RawMessage(`{"user":"alice","amount":42}`),
		},
		Metadata: event.KafkaMetadata{Topic: "orders", Partition: partition, Offset: offset, Timestamp: ts},
	}
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Config{}, Components{}, nil, nil)
	assert.EqualError(t, err, "pipeline requires a validator")

	_, err = New(Config{}, Components{Validator: validator.NewCloudEventsValidator()}, nil, nil)
	assert.EqualError(t, err, "pipeline requires a buffer manager")
}

func TestProcessor_RotatesAndCommits(t *testing.T) {
	h := newHarness(t, 2, true)
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 10, "evt-1")))
	assert.Empty(t, h.writer.batches())
	assert.Empty(t, h.committer.offsets())

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 11, "evt-2")))

	batches := h.writer.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "file://orders/v10/dt=2024-03-05/pid=0/", h.writer.paths[0])

	log := batches[0][1].Log
	require.NotNil(t, log)
	assert.Equal(t, "evt-2", log.Fields()["id"])

	assert.Equal(t, []int64{11}, h.committer.offsets())
	assert.Equal(t, 2, h.metrics.status[StatusBuffered])
	assert.Equal(t, 2, h.metrics.status[StatusWritten])
}

func TestProcessor_RejectsInvalidEvents(t *testing.T) {
	h := newHarness(t, 10, true)
	ctx := context.Background()

	invalid := consumedEvent(0, 5, "")
	require.NoError(t, h.p.handle(ctx, invalid))

	garbage := &event.ConsumedEvent{
		Metadata:  event.KafkaMetadata{Topic: "orders", Partition: 0, Offset: 6},
		Raw:       []byte("garbage"),
		DecodeErr: errors.New("not a cloud event"),
	}
	require.NoError(t, h.p.handle(ctx, garbage))

	assert.Equal(t, []dlqMessage{
		{5, consumer.ReasonValidationFailed},
		{6, consumer.ReasonDecodeFailed},
	}, h.dlq.messages)

	// Nothing was buffered, so each rejected offset is committed at once.
	assert.Equal(t, []int64{5, 6}, h.committer.offsets())
	assert.Empty(t, h.writer.batches())
	assert.Equal(t, 2, h.metrics.status[StatusRejected])
}

func TestProcessor_RejectBehindBufferedRecords(t *testing.T) {
	h := newHarness(t, 10, true)
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 1, "evt-1")))
	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 2, "")))

	// Offset 1 is not stored yet, so offset 2 must wait for the flush.
	assert.Empty(t, h.committer.offsets())

	h.p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	require.NoError(t, h.p.flushDue(ctx))

	require.Len(t, h.writer.batches(), 1)
	assert.Equal(t, []int64{2}, h.committer.offsets())
}

func TestProcessor_FlushDueSkipsYoungBuffers(t *testing.T) {
	h := newHarness(t, 10, true)
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 1, "evt-1")))
	require.NoError(t, h.p.flushDue(ctx))

	assert.Empty(t, h.writer.batches())
	assert.Empty(t, h.committer.offsets())
}

func TestProcessor_RetriesRetryableWrites(t *testing.T) {
	h := newHarness(t, 1, true)
	h.writer.errs = []error{
		&apperrors.StorageError{Operation: "upload", Path: "orders", Err: errors.New("503")},
		&apperrors.StorageError{Operation: "upload", Path: "orders", Err: errors.New("503")},
	}

	require.NoError(t, h.p.handle(context.Background(), consumedEvent(0, 7, "evt-1")))

	assert.Len(t, h.writer.batches(), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.delays)
	assert.Equal(t, 2, h.metrics.retries)
	assert.Equal(t, []int64{7}, h.committer.offsets())
	assert.Empty(t, h.dlq.messages)
}

func TestProcessor_ExhaustedWritesGoToDLQ(t *testing.T) {
	h := newHarness(t, 2, true)
	h.writer.errs = []error{
		&apperrors.StorageError{Operation: "encode", Path: "orders", Err: errors.New("bad column")},
	}
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(1, 3, "evt-1")))
	require.NoError(t, h.p.handle(ctx, consumedEvent(1, 4, "evt-2")))

	// Encoding failures are not retried.
	assert.Len(t, h.writer.batches(), 1)
	assert.Empty(t, h.delays)
	assert.Equal(t, []dlqMessage{
		{3, consumer.ReasonStorageFailed},
		{4, consumer.ReasonStorageFailed},
	}, h.dlq.messages)
	assert.Equal(t, []int64{4}, h.committer.offsets())
	assert.Equal(t, 2, h.metrics.status[StatusFailed])
}

func TestProcessor_FailedBatchWithoutDLQ(t *testing.T) {
	h := newHarness(t, 1, false)
	h.writer.errs = []error{
		&apperrors.StorageError{Operation: "encode", Err: errors.New("bad column")},
	}

	err := h.p.handle(context.Background(), consumedEvent(0, 9, "evt-1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders-0 not stored")
	assert.Empty(t, h.committer.offsets())
}

func TestProcessor_FailedDLQPublishStopsRejection(t *testing.T) {
	h := newHarness(t, 10, true)
	h.dlq.err = errors.New("brokers down")

	err := h.p.handle(context.Background(), consumedEvent(0, 3, ""))

	require.Error(t, err)
	assert.Empty(t, h.committer.offsets())
}

func TestProcessor_BufferFullFlushesFirst(t *testing.T) {
	h := newHarness(t, 10, true)
	h.buffers = buffer.NewManager(0, 1)
	h.p.c.Buffers = h.buffers
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 1, "evt-1")))
	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 2, "evt-2")))

	batches := h.writer.batches()
	require.Len(t, batches, 1)
	assert.Equal(t, int64(1), batches[0][0].Offset)
	assert.Equal(t, []int64{1}, h.committer.offsets())
	assert.False(t, h.buffers.GetOrCreate(event.PartitionID{Topic: "orders", Partition: 0}).IsEmpty())
}

func TestProcessor_RevokedPartitionDropsBuffer(t *testing.T) {
	h := newHarness(t, 10, true)
	h.committer.err = &apperrors.CommitError{
		PartitionID: event.PartitionID{Topic: "orders", Partition: 0},
		Err:         apperrors.ErrPartitionRevoked,
	}
	ctx := context.Background()

	require.NoError(t, h.p.handle(ctx, consumedEvent(0, 1, "")))

	partitions := 0
	h.buffers.Range(func(event.PartitionID, pkgbuffer.Buffer) bool {
		partitions++
		return true
	})
	assert.Zero(t, partitions)
	assert.Equal(t, []int64{1}, h.committer.offsets())
}

func TestProcessor_Run(t *testing.T) {
	h := newHarness(t, 10, true)
	events := make(chan *event.ConsumedEvent)
	errs := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.p.Run(ctx, events, errs)
	}()

	require.Eventually(t, h.p.Ready, time.Second, 5*time.Millisecond)
	require.NoError(t, h.p.Check(ctx))

	errs <- errors.New("broker flapped")
	events <- consumedEvent(2, 40, "evt-1")
	events <- consumedEvent(2, 41, "evt-2")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.False(t, h.p.Ready())
	assert.Error(t, h.p.Check(context.Background()))

	batches := h.writer.batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, []int64{41}, h.committer.offsets())
}

func TestProcessor_RunStopsWhenEventsClose(t *testing.T) {
	h := newHarness(t, 10, true)
	events := make(chan *event.ConsumedEvent, 1)
	events <- consumedEvent(0, 1, "evt-1")
	close(events)

	require.NoError(t, h.p.Run(context.Background(), events, nil))

	require.Len(t, h.writer.batches(), 1)
	assert.Equal(t, []int64{1}, h.committer.offsets())
}
