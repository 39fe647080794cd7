package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/consumer"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// DLQEvent is the envelope published to the dead letter topic. Exactly one
// of OriginalEvent and OriginalPayload is set: the event when the message
// decoded, the raw message value when it did not.
type DLQEvent struct {
	OriginalEvent     json.RawMessage `json:"original_event,omitempty"`
	OriginalPayload   []byte          `json:"original_payload,omitempty"`
	OriginalTopic     string          `json:"original_topic"`
	OriginalPartition int32           `json:"original_partition"`
	OriginalOffset    int64           `json:"original_offset"`
	FailureReason     string          `json:"failure_reason"`
	FailureDetail     string          `json:"failure_detail,omitempty"`
	FailureTimestamp  time.Time       `json:"failure_timestamp"`
	RetryCount        int             `json:"retry_count"`
	ProcessorID       string          `json:"processor_id"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// DLQMetrics records dead lettered messages.
type DLQMetrics interface {
	IncDLQMessages(topic, reason string)
}

// DLQPublisher publishes failed events to a dead letter queue.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *slog.Logger
	metrics     DLQMetrics
	mu          sync.RWMutex
	closed      bool
	processorID string
	now         func() time.Time
}

// NewDLQPublisher creates a new DLQ publisher. A disabled publisher accepts
// and drops every message.
func NewDLQPublisher(
	bootstrapServers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	metrics DLQMetrics,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, metrics, processorID), nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	if dlqConfig.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	}
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", bootstrapServers,
		"topic_suffix", dlqConfig.TopicSuffix,
	)

	return newDLQPublisher(producer, dlqConfig, logger, metrics, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, dlqConfig DLQConfig, logger *slog.Logger, metrics DLQMetrics, processorID string) *DLQPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQPublisher{
		producer:    producer,
		config:      dlqConfig,
		logger:      logger,
		metrics:     metrics,
		processorID: processorID,
		now:         time.Now,
	}
}

// Publish publishes a failed message to <topic><suffix>.
func (p *DLQPublisher) Publish(
	ctx context.Context,
	consumed *event.ConsumedEvent,
	reason string,
	cause error,
) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrWriterClosed
	}
	if consumed == nil {
		return fmt.Errorf("nothing to publish")
	}

	if !p.config.Enabled {
		p.logger.Debug("DLQ disabled, dropping message",
			"topic", consumed.Metadata.Topic,
			"offset", consumed.Metadata.Offset,
			"reason", reason,
		)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.buildMessage(consumed, reason, cause)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			"error", err,
			"dlq_topic", msg.Topic,
			"original_offset", consumed.Metadata.Offset,
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	if p.metrics != nil {
		p.metrics.IncDLQMessages(consumed.Metadata.Topic, reason)
	}

	p.logger.Info("published event to DLQ",
		"dlq_topic", msg.Topic,
		"partition", partition,
		"offset", offset,
		"original_offset", consumed.Metadata.Offset,
		"reason", reason,
	)
	return nil
}

func (p *DLQPublisher) buildMessage(consumed *event.ConsumedEvent, reason string, cause error) (*sarama.ProducerMessage, error) {
	meta := consumed.Metadata
	now := p.now()

	envelope := DLQEvent{
		OriginalTopic:     meta.Topic,
		OriginalPartition: meta.Partition,
		OriginalOffset:    meta.Offset,
		FailureReason:     reason,
		FailureTimestamp:  now.UTC(),
		ProcessorID:       p.processorID,
	}
	if cause != nil {
		envelope.FailureDetail = cause.Error()
	}

	var key sarama.Encoder
	if consumed.Event != nil {
		original, err := marshalEvent(consumed.Event)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		envelope.OriginalEvent = original
		key = sarama.StringEncoder(consumed.Event.ID)
	} else {
		envelope.OriginalPayload = consumed.Raw
		if meta.Key != nil {
			key = sarama.ByteEncoder(meta.Key)
		}
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DLQ event: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: meta.Topic + p.config.TopicSuffix,
		Key:   key,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(meta.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.FormatInt(int64(meta.Partition), 10))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(meta.Offset, 10))},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: now,
	}, nil
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.logger.Info("closing DLQ publisher")

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
