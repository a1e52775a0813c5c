package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type stockLedger struct {
	q querier
}

// Reserve уменьшает остаток одним условным UPDATE: проверка и списание
// атомарны, строка товара остаётся заблокированной до конца транзакции.
func (l *stockLedger) Reserve(ctx context.Context, productID string, qty int32) (bool, error) {
	tag, err := l.q.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, productID, int64(qty))
	if err != nil {
		return false, fmt.Errorf("reserve stock for %s: %w", productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *stockLedger) Release(ctx context.Context, productID string, qty int32) error {
	tag, err := l.q.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, productID, int64(qty))
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (l *stockLedger) Available(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := l.q.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read stock for %s: %w", productID, err)
	}
	return stock, nil
}

var _ domain.StockLedger = (*stockLedger)(nil)
