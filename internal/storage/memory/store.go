package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type productRecord struct {
	name  string
	stock int64
}

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// Store — in-memory хранилище для локальной разработки и тестов.
// Один мьютекс играет роль транзакции: WithinTx полностью сериализует работу,
// а журнал отката возвращает состояние, если fn завершилась ошибкой.
type Store struct {
	mu        sync.Mutex
	products  map[string]*productRecord
	vouchers  map[string]domain.Voucher
	orders    map[string]domain.Order
	numbers   map[string]string
	outbox    map[string]*outboxRecord
	outboxSeq int64

	idempotency map[string]domain.IdempotencyRecord
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]*productRecord),
		vouchers: make(map[string]domain.Voucher),
		orders:   make(map[string]domain.Order),
		numbers:  make(map[string]string),
		outbox:   make(map[string]*outboxRecord),

		idempotency: make(map[string]domain.IdempotencyRecord),
	}
}

// PutProduct заводит товар с остатком (замена каталога в dev-режиме и тестах).
func (s *Store) PutProduct(id, name string, stock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = &productRecord{name: name, stock: stock}
}

// PutVoucher сохраняет ваучер, приводя код к верхнему регистру.
func (s *Store) PutVoucher(v domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Code = domain.NormalizeVoucherCode(v.Code)
	s.vouchers[v.Code] = v
}

// Voucher возвращает текущее состояние ваучера (используется в тестах).
func (s *Store) Voucher(code string) (domain.Voucher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[domain.NormalizeVoucherCode(code)]
	return v, ok
}

// WithinTx выполняет fn под эксклюзивной блокировкой хранилища.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxScope) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := &txScope{store: s}
	defer func() {
		if p := recover(); p != nil {
			scope.rollback()
			panic(p)
		}
		if err != nil {
			scope.rollback()
		}
	}()

	if err = fn(ctx, scope); err != nil {
		return err
	}
	// Истёкший контекст равен таймауту транзакции: изменения не фиксируем.
	if err = ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Orders возвращает read-only доступ к заказам вне транзакции.
func (s *Store) Orders() domain.OrderReader {
	return &orderReader{store: s}
}

// Available возвращает текущий остаток товара. Менять остатки можно только
// через TxScope.Stock() внутри WithinTx.
func (s *Store) Available(ctx context.Context, productID string) (available int64, err error) {
	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		available, err = tx.Stock().Available(ctx, productID)
		return err
	})
	return available, err
}

// Outbox возвращает outbox-репозиторий для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &autoOutbox{store: s}
}

// Ping нужен для health-check и всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

type txScope struct {
	store *Store
	undo  []func()
}

func (t *txScope) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txScope) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txScope) Stock() domain.StockLedger          { return &stockLedger{tx: t} }
func (t *txScope) Vouchers() domain.VoucherRepository { return &voucherRepository{tx: t} }
func (t *txScope) Orders() domain.OrderRepository     { return &orderRepository{tx: t} }
func (t *txScope) History() domain.HistoryRepository  { return &historyRepository{tx: t} }
func (t *txScope) Outbox() domain.OutboxRepository    { return &outboxRepository{tx: t} }

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.TxScope    = (*txScope)(nil)
)
