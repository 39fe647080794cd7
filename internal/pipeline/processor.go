// Package pipeline moves consumed CloudEvents through validation, buffering,
// file rotation and storage, and commits offsets once their records are stored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/buffer"
	"github.com/jittakal/kafcsvstore/pkg/consumer"
	"github.com/jittakal/kafcsvstore/pkg/event"
	"github.com/jittakal/kafcsvstore/pkg/storage"
)

// Event statuses reported to IncEventsProcessed.
const (
	StatusBuffered = "buffered"
	StatusWritten  = "written"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

const (
	defaultFlushInterval   = time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

// Committer commits consumed offsets.
type Committer interface {
	Commit(ctx context.Context, partition event.PartitionID, offset int64) error
}

// Metrics is the subset of the service metrics the processor records.
type Metrics interface {
	IncEventsProcessed(topic string, partition int32, status string)
	SetBufferStats(topic string, partition int32, records int, sizeBytes int64)
	IncStorageRetries(topic string)
}

// Config holds the processor settings.
type Config struct {
	// FlushInterval is the period of the flush ticker. Buffers older than
	// one interval are flushed on the next tick even if the rotation policy
	// has not fired.
	FlushInterval time.Duration
	// ShutdownTimeout bounds the final flush after the run context ends.
	ShutdownTimeout time.Duration
	Retry           RetryPolicy
}

// Components are the collaborators a Processor needs. DLQ may be nil: rejected
// events are then logged and skipped, and a batch that fails storage stops Run.
type Components struct {
	Validator event.Validator
	Buffers   buffer.Manager
	Policy    storage.RotationPolicy
	Router    storage.Router
	Writer    storage.Writer
	Committer Committer
	DLQ       consumer.DLQPublisher
}

// Processor is the single consumer loop. Run must not be called concurrently.
type Processor struct {
	config  Config
	c       Components
	logger  *slog.Logger
	metrics Metrics

	// pending holds the highest handled offset per partition that is not
	// committed yet.
	pending map[event.PartitionID]int64
	ready   atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a processor. A nil metrics disables metric recording.
func New(config Config, components Components, logger *slog.Logger, metrics Metrics) (*Processor, error) {
	switch {
	case components.Validator == nil:
		return nil, errors.New("pipeline requires a validator")
	case components.Buffers == nil:
		return nil, errors.New("pipeline requires a buffer manager")
	case components.Policy == nil:
		return nil, errors.New("pipeline requires a rotation policy")
	case components.Router == nil:
		return nil, errors.New("pipeline requires a router")
	case components.Writer == nil:
		return nil, errors.New("pipeline requires a storage writer")
	case components.Committer == nil:
		return nil, errors.New("pipeline requires a committer")
	}

	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Processor{
		config:  config,
		c:       components,
		logger:  logger,
		metrics: metrics,
		pending: make(map[event.PartitionID]int64),
		now:     time.Now,
		sleep:   sleepContext,
	}, nil
}

// Ready reports whether Run is consuming.
func (p *Processor) Ready() bool {
	return p.ready.Load()
}

// Check is a readiness check for the health server.
func (p *Processor) Check(ctx context.Context) error {
	if !p.Ready() {
		return errors.New("processor is not running")
	}
	return nil
}

// Run processes events until ctx is done or events is closed, then flushes
// every non-empty buffer. Consumer errors are logged. Run fails when a batch
// can be neither stored nor dead lettered; its offsets stay uncommitted.
func (p *Processor) Run(ctx context.Context, events <-chan *event.ConsumedEvent, errs <-chan error) error {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	p.ready.Store(true)
	defer p.ready.Store(false)

	p.logger.Info("processor started", "flush_interval", p.config.FlushInterval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, stopping processing")
			return p.shutdown(ctx)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Error("consumer error", "error", err)
		case consumed, ok := <-events:
			if !ok {
				p.logger.Info("event channel closed")
				return p.shutdown(ctx)
			}
			if err := p.handle(ctx, consumed); err != nil {
				return p.stop(ctx, err)
			}
		case <-ticker.C:
			if err := p.flushDue(ctx); err != nil {
				return p.stop(ctx, err)
			}
		}
	}
}

// stop ends Run after a failed flush. A flush interrupted by cancellation
// is part of a normal shutdown.
func (p *Processor) stop(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return p.shutdown(ctx)
	}
	p.logger.Error("stopping processor", "error", err)
	return err
}

func (p *Processor) handle(ctx context.Context, consumed *event.ConsumedEvent) error {
	if consumed == nil {
		return nil
	}
	pid := consumed.PartitionID()

	if consumed.DecodeErr != nil {
		return p.reject(ctx, consumed, consumer.ReasonDecodeFailed, consumed.DecodeErr)
	}
	if err := p.c.Validator.Validate(consumed.Event); err != nil {
		return p.reject(ctx, consumed, consumer.ReasonValidationFailed, err)
	}

	record := event.Record{
		Event:       consumed.Event,
		Kafka:       consumed.Metadata,
		Offset:      consumed.Metadata.Offset,
		ProcessedAt: p.now(),
	}
	log, err := event.FromRecord(record)
	if err != nil {
		return p.reject(ctx, consumed, consumer.ReasonDecodeFailed, err)
	}
	record.Log = log

	buf := p.c.Buffers.GetOrCreate(pid)
	err = buf.Add(record)
	if errors.Is(err, apperrors.ErrBufferFull) {
		if err := p.flush(ctx, pid, buf); err != nil {
			return err
		}
		err = buf.Add(record)
	}
	if err != nil {
		return p.reject(ctx, consumed, consumer.ReasonStorageFailed, &apperrors.ProcessingError{
			PartitionID: pid,
			Offset:      record.Offset,
			EventID:     record.Event.ID,
			Err:         err,
		})
	}

	p.pending[pid] = record.Offset
	p.metrics.IncEventsProcessed(pid.Topic, pid.Partition, StatusBuffered)

	stats := buf.Stats()
	p.metrics.SetBufferStats(pid.Topic, pid.Partition, stats.RecordCount, stats.SizeBytes)
	if p.c.Policy.ShouldRotate(stats) {
		return p.flush(ctx, pid, buf)
	}
	return nil
}

// reject sends an event that will never be stored to the DLQ. Its offset is
// committed right away when nothing older is buffered, otherwise with the
// next flush.
func (p *Processor) reject(ctx context.Context, consumed *event.ConsumedEvent, reason string, cause error) error {
	pid := consumed.PartitionID()
	offset := consumed.Metadata.Offset

	p.logger.Warn("rejecting event",
		"topic", pid.Topic,
		"partition", pid.Partition,
		"offset", offset,
		"reason", reason,
		"error", cause,
	)
	p.metrics.IncEventsProcessed(pid.Topic, pid.Partition, StatusRejected)

	if err := p.publishDLQ(ctx, consumed, reason, cause); err != nil {
		return err
	}

	p.pending[pid] = offset
	if p.c.Buffers.GetOrCreate(pid).IsEmpty() {
		p.commit(ctx, pid)
	}
	return nil
}

// publishDLQ sends an event to the DLQ. Without a DLQ the event is only
// logged by the caller.
func (p *Processor) publishDLQ(ctx context.Context, consumed *event.ConsumedEvent, reason string, cause error) error {
	if p.c.DLQ == nil {
		return nil
	}
	if err := p.c.DLQ.Publish(ctx, consumed, reason, cause); err != nil {
		return fmt.Errorf("dead letter %s offset %d: %w", consumed.PartitionID(), consumed.Metadata.Offset, err)
	}
	return nil
}

// flushDue flushes buffers the rotation policy or the flush interval say
// are due.
func (p *Processor) flushDue(ctx context.Context) error {
	now := p.now()
	var flushErr error
	p.c.Buffers.Range(func(pid event.PartitionID, buf buffer.Buffer) bool {
		stats := buf.Stats()
		if stats.RecordCount == 0 {
			return true
		}
		aged := !stats.FirstWriteTime.IsZero() && now.Sub(stats.FirstWriteTime) >= p.config.FlushInterval
		if aged || p.c.Policy.ShouldRotate(stats) {
			flushErr = p.flush(ctx, pid, buf)
		}
		return flushErr == nil
	})
	return flushErr
}

// flush writes the buffered records of a partition as one file and commits
// the partition's pending offset. A batch that exhausts its retries goes to
// the DLQ; the returned error means it reached neither.
func (p *Processor) flush(ctx context.Context, pid event.PartitionID, buf buffer.Buffer) error {
	records := buf.Drain()
	p.metrics.SetBufferStats(pid.Topic, pid.Partition, 0, 0)
	if len(records) == 0 {
		return nil
	}

	// The batch lands in the partition of its first event.
	first := records[0]
	specVersion := ""
	if first.Event != nil {
		specVersion = first.Event.SpecVersion
	}
	path := p.c.Router.Route(pid, first.GetEventTimeUnix(), specVersion)

	result, err := p.write(ctx, pid, records, path)
	if err == nil {
		for range records {
			p.metrics.IncEventsProcessed(pid.Topic, pid.Partition, StatusWritten)
		}
		p.logger.Info("wrote batch to storage",
			"topic", pid.Topic,
			"partition", pid.Partition,
			"records", len(records),
			"bytes", result.Stats.SizeBytes,
			"location", result.Location,
		)
		p.commit(ctx, pid)
		return nil
	}

	p.logger.Error("failed to write batch to storage",
		"topic", pid.Topic,
		"partition", pid.Partition,
		"records", len(records),
		"path", path,
		"error", err,
	)

	if ctx.Err() != nil || p.c.DLQ == nil {
		delete(p.pending, pid)
		return fmt.Errorf("batch %s not stored: %w", pid, err)
	}

	for i := range records {
		p.metrics.IncEventsProcessed(pid.Topic, pid.Partition, StatusFailed)
		consumed := &event.ConsumedEvent{Event: records[i].Event, Metadata: records[i].Kafka}
		if dlqErr := p.publishDLQ(ctx, consumed, consumer.ReasonStorageFailed, err); dlqErr != nil {
			delete(p.pending, pid)
			return fmt.Errorf("batch %s not stored: %w", pid, errors.Join(err, dlqErr))
		}
	}

	p.commit(ctx, pid)
	return nil
}

// write calls the storage writer, retrying retryable failures with backoff.
func (p *Processor) write(ctx context.Context, pid event.PartitionID, records []event.Record, path string) (*storage.WriteResult, error) {
	attempts := p.config.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.config.Retry.Delay(attempt - 1)
			p.logger.Warn("retrying storage write",
				"topic", pid.Topic,
				"partition", pid.Partition,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			p.metrics.IncStorageRetries(pid.Topic)
			if err := p.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("storage write interrupted: %w", err)
			}
		}

		result, err := p.c.Writer.Write(ctx, records, path)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// commit commits the pending offset of a partition. A revoked partition
// drops its buffer; the new owner consumes those records again.
func (p *Processor) commit(ctx context.Context, pid event.PartitionID) {
	offset, ok := p.pending[pid]
	if !ok {
		return
	}
	delete(p.pending, pid)

	err := p.c.Committer.Commit(ctx, pid, offset)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrPartitionRevoked):
		dropped := p.c.Buffers.Remove(pid)
		p.metrics.SetBufferStats(pid.Topic, pid.Partition, 0, 0)
		p.logger.Warn("partition revoked, dropping buffer",
			"topic", pid.Topic,
			"partition", pid.Partition,
			"offset", offset,
			"dropped_records", len(dropped),
		)
	default:
		p.logger.Error("failed to commit offset",
			"topic", pid.Topic,
			"partition", pid.Partition,
			"offset", offset,
			"error", err,
		)
	}
}

// shutdown flushes every non-empty buffer with a context detached from the
// cancelled run context.
func (p *Processor) shutdown(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ShutdownTimeout)
	defer cancel()

	var flushErr error
	p.c.Buffers.Range(func(pid event.PartitionID, buf buffer.Buffer) bool {
		if !buf.IsEmpty() {
			if err := p.flush(flushCtx, pid, buf); err != nil {
				flushErr = errors.Join(flushErr, err)
			}
		}
		return flushCtx.Err() == nil
	})

	if flushErr != nil {
		return fmt.Errorf("final flush did not complete: %w", flushErr)
	}
	p.logger.Info("processor stopped")
	return nil
}

type noopMetrics struct{}

func (noopMetrics) IncEventsProcessed(string, int32, string) {}
func (noopMetrics) SetBufferStats(string, int32, int, int64) {}
func (noopMetrics) IncStorageRetries(string)                 {}
