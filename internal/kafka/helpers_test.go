package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockMetrics struct {
	mu          sync.Mutex
	consumed    map[string]int
	lag         map[string]int64
	rebalances  int
	commits     map[string]int
	assigned    map[string]int
	dlqMessages map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		consumed:    make(map[string]int),
		lag:         make(map[string]int64),
		commits:     make(map[string]int),
		assigned:    make(map[string]int),
		dlqMessages: make(map[string]int),
	}
}

func (m *mockMetrics) IncMessagesConsumed(topic string, partition int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed[topic]++
}

func (m *mockMetrics) SetConsumerLag(topic string, partition int32, lag int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag[topic] = lag
}

func (m *mockMetrics) IncRebalances(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebalances++
}

func (m *mockMetrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[status]++
}

func (m *mockMetrics) ObserveCommitLatency(topic string, partition int32, duration float64) {}

func (m *mockMetrics) SetPartitionsAssigned(topic string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[topic] = count
}

func (m *mockMetrics) IncDLQMessages(topic, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlqMessages[topic+"/"+reason]++
}

func (m *mockMetrics) get(f func() int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f()
}

type markedOffset struct {
	topic     string
	partition int32
	offset    int64
}

type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32

	mu      sync.Mutex
	marked  []markedOffset
	commits int
}

func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) Context() context.Context   { return s.ctx }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, markedOffset{topic, partition, offset})
}

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

type fakeClaim struct {
	topic     string
	partition int32
	hwm       int64
	messages  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return c.hwm }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// fakeGroup runs one session over its claims until the context ends.
type fakeGroup struct {
	claims []*fakeClaim
	errs   chan error

	mu      sync.Mutex
	session *fakeSession
	closed  bool
}

func newFakeGroup(claims ...*fakeClaim) *fakeGroup {
	return &fakeGroup{claims: claims, errs: make(chan error)}
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	assigned := make(map[string][]int32)
	for _, c := range g.claims {
		assigned[c.topic] = append(assigned[c.topic], c.partition)
	}
	session := &fakeSession{ctx: ctx, claims: assigned}

	g.mu.Lock()
	g.session = session
	g.mu.Unlock()

	if err := handler.Setup(session); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, c := range g.claims {
		wg.Add(1)
		go func(c *fakeClaim) {
			defer wg.Done()
			_ = handler.ConsumeClaim(session, c)
		}(c)
	}
	<-ctx.Done()
	wg.Wait()

	return handler.Cleanup(session)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func (g *fakeGroup) Pause(partitions map[string][]int32)  {}
func (g *fakeGroup) Resume(partitions map[string][]int32) {}
func (g *fakeGroup) PauseAll()                            {}
func (g *fakeGroup) ResumeAll()                           {}

func (g *fakeGroup) currentSession() *fakeSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}
