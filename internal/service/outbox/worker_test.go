package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
	"github.com/vladislavdragonenkov/retail-orders/internal/storage/memory"
)

func enqueue(t *testing.T, store *memory.Store, aggregateID string, payload string) domain.OutboxMessage {
	t.Helper()
	msg, err := store.Outbox().Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   aggregateID,
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(payload),
	})
	require.NoError(t, err)
	return msg
}

func newTestWorker(store *memory.Store, publisher domain.OutboxPublisher, options ...Option) *Worker {
	base := []Option{
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithMetrics(metrics.NewOutboxMetrics(prometheus.NewRegistry())),
	}
	return NewWorker(store.Outbox(), publisher, append(base, options...)...)
}

func TestWorker_PublishesInEnqueueOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	first := enqueue(t, store, "order-1", `{"status":"confirmed"}`)
	second := enqueue(t, store, "order-2", `{"status":"shipped"}`)
	publisher := &stubPublisher{}

	sent := newTestWorker(store, publisher).ProcessOnce(context.Background())

	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{first.ID, second.ID}, publisher.publishedIDs())
	assert.Empty(t, store.OutboxPending())
}

func TestWorker_DeadLettersAfterRetries(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	store := memory.NewStore()
	msg := enqueue(t, store, "order-2", `{"status":"confirmed"}`)
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}

	worker := newTestWorker(store, publisher,
		WithDLQPublisher(dlq),
		WithMetrics(metrics.NewOutboxMetrics(registry)),
	)
	worker.now = func() time.Time { return time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC) }
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	require.Equal(t, 1, dlq.calls())
	assert.Empty(t, store.OutboxPending(), "failed message leaves the backlog")

	dead := dlq.last()
	assert.Equal(t, msg.ID, dead.ID)
	assert.JSONEq(t, `{
		"outbox_id": "`+msg.ID+`",
		"aggregate_type": "order",
		"aggregate_id": "order-2",
		"event_type": "`+domain.EventOrderStatusChanged+`",
		"payload": {"status":"confirmed"},
		"publish_error": "outbox publish failed after 3 attempts: broker unavailable",
		"dlq_published_at": "2026-06-01T08:30:00Z"
	}`, string(dead.Payload))

	expected := `
# HELP retail_outbox_publish_attempts_total Outbox publish attempts grouped by result
# TYPE retail_outbox_publish_attempts_total counter
retail_outbox_publish_attempts_total{result="dlq"} 1
retail_outbox_publish_attempts_total{result="failed"} 1
retail_outbox_publish_attempts_total{result="retry_error"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "retail_outbox_publish_attempts_total"))
}

func TestWorker_DeadLettersInvalidPayloadAsString(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "order-9", `{broken`)
	dlq := &stubPublisher{}

	newTestWorker(store, &stubPublisher{err: errors.New("rejected")}, WithDLQPublisher(dlq)).ProcessOnce(context.Background())

	var body map[string]any
	require.NoError(t, json.Unmarshal(dlq.last().Payload, &body))
	assert.Equal(t, "{broken", body["payload"])
}

func TestWorker_KeepsPendingWhenDLQFails(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "order-3", `{}`)
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{err: errors.New("dlq unavailable")}

	newTestWorker(store, publisher, WithDLQPublisher(dlq)).ProcessOnce(context.Background())

	assert.Len(t, store.OutboxPending(), 1)
}

func TestWorker_MarksFailedWithoutDLQ(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "order-3", `{}`)

	sent := newTestWorker(store, &stubPublisher{err: errors.New("broker unavailable")}).ProcessOnce(context.Background())

	assert.Zero(t, sent)
	assert.Empty(t, store.OutboxPending())
}

func TestWorker_SucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "order-3", `{}`)
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	sent := newTestWorker(store, publisher).ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Equal(t, 1, sent)
}

func TestWorker_CanceledContextKeepsPending(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueue(t, store, "order-4", `{}`)
	enqueue(t, store, "order-5", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	publisher := &stubPublisher{onPublish: cancel, err: context.Canceled}

	newTestWorker(store, publisher).ProcessOnce(ctx)

	assert.Equal(t, 1, publisher.calls())
	assert.Len(t, store.OutboxPending(), 2)
}

func TestNewWorkerIgnoresInvalidOptions(t *testing.T) {
	t.Parallel()

	w := NewWorker(nil, nil, WithPollInterval(-time.Second), WithBatchSize(0), WithMaxAttempts(-1), WithRetryBaseDelay(-time.Millisecond))
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.Equal(t, defaultMaxAttempts, w.maxAttempts)
	assert.Zero(t, w.retryBaseDelay)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	assert.Zero(t, backoff(base, 0))
	assert.Zero(t, backoff(0, 3))
	assert.Equal(t, base, backoff(base, 1))
	assert.Equal(t, 40*time.Millisecond, backoff(base, 3))
	assert.Equal(t, maxRetryDelay, backoff(base, 40))
}

func TestWorker_Run_PollsUntilCanceled(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publisher := &stubPublisher{}
	worker := newTestWorker(store, publisher, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	enqueue(t, store, "order-5", `{}`)
	assert.Eventually(t, func() bool { return publisher.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(memory.NewStore().Outbox(), nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	onPublish      func()
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.onPublish != nil {
		s.onPublish()
	}
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) publishedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.published))
	for _, msg := range s.published {
		ids = append(ids, msg.ID)
	}
	return ids
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)
