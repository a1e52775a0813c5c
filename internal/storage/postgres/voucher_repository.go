package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type voucherRepository struct {
	q querier
}

// GetForUpdate блокирует строку ваучера: параллельные оформления с тем же кодом
// выстраиваются в очередь, и подсчёт использований ниже видит уже зафиксированные заказы.
func (r *voucherRepository) GetForUpdate(ctx context.Context, code string) (domain.Voucher, error) {
	var (
		v       domain.Voucher
		status  string
		perUser *int
	)
	err := r.q.QueryRow(ctx, `
		SELECT code, discount_percent, expires_at, usage_limit, per_user_limit, status
		FROM vouchers
		WHERE code = $1
		FOR UPDATE
	`, domain.NormalizeVoucherCode(code)).Scan(&v.Code, &v.DiscountPercent, &v.ExpiresAt, &v.UsageLimit, &perUser, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("select voucher for update: %w", err)
	}

	v.Status = domain.VoucherStatus(status)
	if perUser != nil {
		v.PerUserLimit = *perUser
	}
	v.ExpiresAt = v.ExpiresAt.UTC()
	return v, nil
}

func (r *voucherRepository) CountUsage(ctx context.Context, code, userID string) (domain.VoucherUsage, error) {
	var usage domain.VoucherUsage
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE user_id = $2)
		FROM orders
		WHERE voucher_code = $1
	`, domain.NormalizeVoucherCode(code), userID).Scan(&usage.Global, &usage.PerUser)
	if err != nil {
		return domain.VoucherUsage{}, fmt.Errorf("count voucher usage: %w", err)
	}
	return usage, nil
}

func (r *voucherRepository) MarkExpired(ctx context.Context, code string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE vouchers
		SET status = 'expired', updated_at = NOW()
		WHERE code = $1
	`, domain.NormalizeVoucherCode(code))
	if err != nil {
		return fmt.Errorf("mark voucher expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVoucherNotFound
	}
	return nil
}

var _ domain.VoucherRepository = (*voucherRepository)(nil)
