package memory

import (
	"context"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type voucherRepository struct {
	tx *txScope
}

// GetForUpdate возвращает ваучер; блокировка уже удерживается транзакцией хранилища.
func (r *voucherRepository) GetForUpdate(_ context.Context, code string) (domain.Voucher, error) {
	voucher, ok := r.tx.store.vouchers[domain.NormalizeVoucherCode(code)]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	return voucher, nil
}

// CountUsage считает заказы, ссылающиеся на ваучер.
func (r *voucherRepository) CountUsage(_ context.Context, code, userID string) (domain.VoucherUsage, error) {
	code = domain.NormalizeVoucherCode(code)

	var usage domain.VoucherUsage
	for _, order := range r.tx.store.orders {
		if order.VoucherCode != code {
			continue
		}
		usage.Global++
		if order.UserID == userID {
			usage.PerUser++
		}
	}
	return usage, nil
}

func (r *voucherRepository) MarkExpired(_ context.Context, code string) error {
	code = domain.NormalizeVoucherCode(code)
	voucher, ok := r.tx.store.vouchers[code]
	if !ok {
		return domain.ErrVoucherNotFound
	}
	previous := voucher.Status
	voucher.Status = domain.VoucherStatusExpired
	r.tx.store.vouchers[code] = voucher
	r.tx.onRollback(func() {
		voucher.Status = previous
		r.tx.store.vouchers[code] = voucher
	})
	return nil
}

var _ domain.VoucherRepository = (*voucherRepository)(nil)
