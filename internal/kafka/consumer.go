// Package kafka implements the Sarama based CloudEvents consumer and the
// dead letter queue producer.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/kafcsvstore/internal/errors"
	"github.com/jittakal/kafcsvstore/pkg/consumer"
	"github.com/jittakal/kafcsvstore/pkg/event"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ consumer.Consumer           = (*SaramaConsumer)(nil)
	_ sarama.ConsumerGroupHandler = (*consumerGroupHandler)(nil)
)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	Security            SecurityConfig
	AutoOffsetReset     string
	EnableAutoCommit    bool
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	// ChannelBufferSize sizes the event channel returned by Consume.
	ChannelBufferSize int
}

// MetricsCollector defines metrics operations for Kafka consumer.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	SetConsumerLag(topic string, partition int32, lag int64)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveCommitLatency(topic string, partition int32, duration float64)
	SetPartitionsAssigned(topic string, count int)
}

// SaramaConsumer implements the consumer.Consumer interface using the Sarama library.
// Offsets are only marked through Commit, so a message counts as processed
// once the caller has stored it.
type SaramaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        ConsumerConfig
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	ready         chan struct{}
	mu            sync.RWMutex
	closed        bool

	sessionMu sync.Mutex
	session   sarama.ConsumerGroupSession
	claims    map[event.PartitionID]struct{}
}

// NewSaramaConsumer creates a new Kafka consumer using Sarama library.
func NewSaramaConsumer(
	config ConsumerConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*SaramaConsumer, error) {
	saramaConfig, err := newSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	consumerGroup, err := sarama.NewConsumerGroup(
		config.BootstrapServers,
		config.GroupID,
		saramaConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"security_protocol", config.Security.Protocol,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)

	return newSaramaConsumer(consumerGroup, config, logger, metrics), nil
}

func newSaramaConsumer(group sarama.ConsumerGroup, config ConsumerConfig, logger *slog.Logger, metrics MetricsCollector) *SaramaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaramaConsumer{
		consumerGroup: group,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		ready:         make(chan struct{}),
	}
}

// newSaramaConfig builds the consumer group configuration.
func newSaramaConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = config.EnableAutoCommit

	// session timeout should stay between 6s and 5min on MSK
	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}

	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	saramaConfig.Consumer.Return.Errors = true

	if err := configureSecurity(saramaConfig, config.Security); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Subscribe subscribes to the specified topics.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts consuming messages and returns channels for events and
// errors. It blocks until the first group session is established.
func (c *SaramaConsumer) Consume(ctx context.Context) (<-chan *event.ConsumedEvent, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	size := c.config.ChannelBufferSize
	if size <= 0 {
		size = 100
	}
	eventChan := make(chan *event.ConsumedEvent, size)
	errorChan := make(chan error, 10)
	stopped := make(chan struct{})

	handler := &consumerGroupHandler{
		consumer:  c,
		eventChan: eventChan,
		ready:     c.ready,
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
				select {
				case errorChan <- err:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(stopped)
		defer close(errorChan)
		defer close(eventChan)
		defer wg.Wait()
		defer cancel()

		for {
			// Consume returns on every rebalance and must be called again.
			if err := c.consumerGroup.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("consumer group consume failed", "error", err)
				select {
				case errorChan <- err:
				default:
				}
				return
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled")
				return
			}
		}
	}()

	select {
	case <-c.ready:
	case <-stopped:
		return nil, nil, fmt.Errorf("kafka consumer stopped before joining the group")
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	c.logger.Info("kafka consumer started and ready")
	return eventChan, errorChan, nil
}

// Commit marks offsets up to and including offset as consumed and, unless
// auto commit is enabled, commits them synchronously. It fails with
// errors.ErrPartitionRevoked when the partition is no longer assigned to
// this member.
func (c *SaramaConsumer) Commit(ctx context.Context, partition event.PartitionID, offset int64) error {
	startTime := time.Now()

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.ErrConsumerClosed
	}
	if err := ctx.Err(); err != nil {
		return &errors.CommitError{PartitionID: partition, Offset: offset, Err: err}
	}

	c.sessionMu.Lock()
	session := c.session
	_, claimed := c.claims[partition]
	if session == nil || !claimed {
		c.sessionMu.Unlock()
		c.recordCommit(partition, "revoked", startTime)
		return &errors.CommitError{PartitionID: partition, Offset: offset, Err: errors.ErrPartitionRevoked}
	}

	session.MarkOffset(partition.Topic, partition.Partition, offset+1, "")
	if !c.config.EnableAutoCommit {
		session.Commit()
	}
	c.sessionMu.Unlock()

	c.logger.Debug("offset committed",
		"topic", partition.Topic,
		"partition", partition.Partition,
		"offset", offset,
	)
	c.recordCommit(partition, "success", startTime)
	return nil
}

func (c *SaramaConsumer) recordCommit(partition event.PartitionID, status string, started time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveCommitLatency(partition.Topic, partition.Partition, time.Since(started).Seconds())
	c.metrics.IncOffsetCommits(partition.Topic, partition.Partition, status)
}

// Close closes the consumer and releases resources.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if c.consumerGroup != nil {
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Error("error closing consumer group", "error", err)
			return err
		}
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

// Check reports the consumer ready while it holds a group session.
func (c *SaramaConsumer) Check(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.ErrConsumerClosed
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session == nil {
		return fmt.Errorf("no active consumer group session")
	}
	return nil
}

func (c *SaramaConsumer) setSession(session sarama.ConsumerGroupSession) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.session = session
	c.claims = nil
	if session == nil {
		return
	}
	c.claims = make(map[event.PartitionID]struct{})
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			c.claims[event.PartitionID{Topic: topic, Partition: p}] = struct{}{}
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer  *SaramaConsumer
	eventChan chan<- *event.ConsumedEvent
	ready     chan struct{}
	readyOnce sync.Once
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	h.consumer.setSession(session)

	if m := h.consumer.metrics; m != nil {
		m.IncRebalances(h.consumer.config.GroupID)
		for topic, partitions := range session.Claims() {
			m.SetPartitionsAssigned(topic, len(partitions))
		}
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.consumer.setSession(nil)

	if m := h.consumer.metrics; m != nil {
		for topic := range session.Claims() {
			m.SetPartitionsAssigned(topic, 0)
		}
	}

	h.consumer.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim forwards messages from one partition. Messages that are not
// valid CloudEvents are still forwarded with DecodeErr set.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	h.consumer.logger.Info("started consuming partition",
		"topic", claim.Topic(),
		"partition", claim.Partition(),
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			consumed := h.toConsumedEvent(message)

			select {
			case h.eventChan <- consumed:
				if m := h.consumer.metrics; m != nil {
					m.IncMessagesConsumed(message.Topic, message.Partition)
					m.SetConsumerLag(message.Topic, message.Partition, claim.HighWaterMarkOffset()-message.Offset-1)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.consumer.logger.Info("session context done, stopping partition consumption",
				"topic", claim.Topic(),
				"partition", claim.Partition(),
			)
			return nil
		}
	}
}

func (h *consumerGroupHandler) toConsumedEvent(message *sarama.ConsumerMessage) *event.ConsumedEvent {
	consumed := &event.ConsumedEvent{
		Metadata: event.KafkaMetadata{
			Topic:     message.Topic,
			Partition: message.Partition,
			Offset:    message.Offset,
			Key:       message.Key,
			Timestamp: message.Timestamp,
			Headers:   extractHeaders(message.Headers),
		},
	}

	cloudEvent, err := decodeMessage(message)
	if err != nil {
		h.consumer.logger.Warn("failed to decode cloud event",
			"error", err,
			"topic", message.Topic,
			"partition", message.Partition,
			"offset", message.Offset,
		)
		consumed.DecodeErr = err
		consumed.Raw = message.Value
		return consumed
	}

	h.consumer.logger.Debug("decoded cloud event",
		"event_id", cloudEvent.ID,
		"source", cloudEvent.Source,
		"type", cloudEvent.Type,
		"specversion", cloudEvent.SpecVersion,
		"data_size", len(cloudEvent.Data),
		"offset", message.Offset,
	)
	consumed.Event = cloudEvent
	return consumed
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	default:
		return sarama.OffsetNewest
	}
}
