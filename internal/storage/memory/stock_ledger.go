package memory

import (
	"context"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type stockLedger struct {
	tx *txScope
}

// Reserve уменьшает остаток, только если его хватает. Проверка и запись
// выполняются под одной блокировкой хранилища.
func (l *stockLedger) Reserve(_ context.Context, productID string, qty int32) (bool, error) {
	product, ok := l.tx.store.products[productID]
	if !ok || product.stock < int64(qty) {
		return false, nil
	}
	product.stock -= int64(qty)
	l.tx.onRollback(func() { product.stock += int64(qty) })
	return true, nil
}

// Release безусловно возвращает количество на склад.
func (l *stockLedger) Release(_ context.Context, productID string, qty int32) error {
	product, ok := l.tx.store.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.stock += int64(qty)
	l.tx.onRollback(func() { product.stock -= int64(qty) })
	return nil
}

func (l *stockLedger) Available(_ context.Context, productID string) (int64, error) {
	product, ok := l.tx.store.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return product.stock, nil
}

var _ domain.StockLedger = (*stockLedger)(nil)
