package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxRepository struct {
	tx *txScope
}

// Enqueue сохраняет событие со статусом `pending` в рамках текущей транзакции.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s := r.tx.store
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	s.outboxSeq++
	now := time.Now().UTC()
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		seq:       s.outboxSeq,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	r.tx.onRollback(func() { delete(s.outbox, msg.ID) })
	return msg, nil
}

// PullPending возвращает до limit сообщений `pending` в порядке записи.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.markStatus(id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(id, status string) error {
	record, ok := r.tx.store.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	prev := *record
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	r.tx.onRollback(func() { *record = prev })
	return nil
}

func (r *outboxRepository) pending() []*outboxRecord {
	result := make([]*outboxRecord, 0)
	for _, rec := range r.tx.store.outbox {
		if rec.status == outboxStatusPending {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// autoOutbox оборачивает каждый вызов в отдельную транзакцию (используется воркером).
type autoOutbox struct {
	store *Store
}

func (a *autoOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (out domain.OutboxMessage, err error) {
	err = a.store.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		out, err = tx.Outbox().Enqueue(ctx, msg)
		return err
	})
	return out, err
}

func (a *autoOutbox) PullPending(ctx context.Context, limit int) (msgs []domain.OutboxMessage, err error) {
	err = a.store.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		msgs, err = tx.Outbox().PullPending(ctx, limit)
		return err
	})
	return msgs, err
}

func (a *autoOutbox) Stats(ctx context.Context) (stats domain.OutboxStats, err error) {
	err = a.store.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		stats, err = tx.Outbox().Stats(ctx)
		return err
	})
	return stats, err
}

func (a *autoOutbox) MarkSent(ctx context.Context, id string) error {
	return a.store.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		return tx.Outbox().MarkSent(ctx, id)
	})
}

func (a *autoOutbox) MarkFailed(ctx context.Context, id string) error {
	return a.store.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		return tx.Outbox().MarkFailed(ctx, id)
	})
}

// OutboxPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (s *Store) OutboxPending() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo := &outboxRepository{tx: &txScope{store: s}}
	msgs, _ := repo.PullPending(context.Background(), len(s.outbox)+1)
	return msgs
}

var (
	_ domain.OutboxRepository = (*outboxRepository)(nil)
	_ domain.OutboxRepository = (*autoOutbox)(nil)
)
