package domain

import (
	"context"
	"time"
)

// StockLedger — единственная точка изменения складских остатков.
type StockLedger interface {
	// Reserve атомарно уменьшает остаток на qty, только если остаток >= qty.
	// false без ошибки означает нехватку товара.
	Reserve(ctx context.Context, productID string, qty int32) (bool, error)
	// Release безусловно возвращает qty на склад (компенсация резерва).
	Release(ctx context.Context, productID string, qty int32) error
	// Available возвращает текущий остаток или ErrProductNotFound.
	Available(ctx context.Context, productID string) (int64, error)
}

// VoucherRepository хранит ваучеры и считает их использования по заказам.
type VoucherRepository interface {
	// GetForUpdate читает ваучер и блокирует его до конца транзакции.
	GetForUpdate(ctx context.Context, code string) (Voucher, error)
	// CountUsage считает заказы, ссылающиеся на ваучер: всего и у пользователя.
	CountUsage(ctx context.Context, code, userID string) (VoucherUsage, error)
	// MarkExpired переводит ваучер в статус expired.
	MarkExpired(ctx context.Context, code string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Insert сохраняет новый заказ. ErrOrderNumberTaken, если номер уже занят.
	Insert(ctx context.Context, order Order) error
	// LastNumberWithPrefix возвращает наибольший номер с префиксом или "".
	LastNumberWithPrefix(ctx context.Context, prefix string) (string, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// Update применяет изменения статусов с учётом optimistic locking.
	Update(ctx context.Context, order Order) error
	// List возвращает страницу заказов по фильтру, новые сначала.
	List(ctx context.Context, filter OrderFilter) (OrderPage, error)
}

// OrderReader описывает read-only часть хранилища заказов.
type OrderReader interface {
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter) (OrderPage, error)
}

// HistoryRepository хранит журнал изменений заказов.
type HistoryRepository interface {
	Append(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, orderID string) ([]HistoryEntry, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// TxScope — репозитории, привязанные к одной транзакции.
type TxScope interface {
	Stock() StockLedger
	Vouchers() VoucherRepository
	Orders() OrderRepository
	History() HistoryRepository
	Outbox() OutboxRepository
}

// Transactor выполняет fn атомарно: ошибка из fn откатывает все изменения.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxScope) error) error
}

// OrderCache кэширует карточки заказов для read-стороны.
type OrderCache interface {
	Get(ctx context.Context, id string) (Order, bool, error)
	Set(ctx context.Context, order Order) error
	Invalidate(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
