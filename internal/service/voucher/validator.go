package voucher

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// Validator проверяет ваучер и ведёт учёт его использований внутри транзакции оформления.
type Validator struct {
	logger *log.Entry
}

// NewValidator создаёт валидатор ваучеров.
func NewValidator(logger *log.Entry) *Validator {
	if logger == nil {
		logger = log.New().WithField("component", "voucher-validator")
	}
	return &Validator{logger: logger}
}

// Validate блокирует ваучер и проверяет его в строгом порядке:
// существование, статус, срок действия, общий лимит, лимит пользователя.
// Счётчики берутся в той же транзакции, что и последующая вставка заказа.
func (v *Validator) Validate(ctx context.Context, repo domain.VoucherRepository, code, userID string, now time.Time) (domain.Voucher, error) {
	code = domain.NormalizeVoucherCode(code)
	if code == "" {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}

	voucher, err := repo.GetForUpdate(ctx, code)
	if err != nil {
		return domain.Voucher{}, err
	}

	// Статус expired выставляется при исчерпании лимита: проигравший гонку
	// за последнее использование получает GlobalLimitReached, а не Inactive.
	if voucher.Status == domain.VoucherStatusExpired {
		usage, err := repo.CountUsage(ctx, voucher.Code, userID)
		if err != nil {
			return domain.Voucher{}, fmt.Errorf("count voucher usage: %w", err)
		}
		if voucher.ExhaustedAfter(usage.Global) {
			return domain.Voucher{}, domain.ErrVoucherGlobalLimitReached
		}
		return domain.Voucher{}, domain.ErrVoucherInactive
	}
	if err := voucher.CheckStatus(now); err != nil {
		return domain.Voucher{}, err
	}

	usage, err := repo.CountUsage(ctx, voucher.Code, userID)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("count voucher usage: %w", err)
	}
	if err := voucher.CheckUsage(usage); err != nil {
		v.logger.WithFields(log.Fields{
			"voucher":  voucher.Code,
			"user_id":  userID,
			"global":   usage.Global,
			"per_user": usage.PerUser,
		}).Debug("voucher usage limit reached")
		return domain.Voucher{}, err
	}
	return voucher, nil
}

// Settle вызывается после вставки заказа: если общий счётчик достиг лимита,
// ваучер переводится в expired и в outbox пишется voucher.exhausted.
func (v *Validator) Settle(ctx context.Context, tx domain.TxScope, voucher domain.Voucher, orderID string, now time.Time) (bool, error) {
	usage, err := tx.Vouchers().CountUsage(ctx, voucher.Code, "")
	if err != nil {
		return false, fmt.Errorf("recount voucher usage: %w", err)
	}
	if !voucher.ExhaustedAfter(usage.Global) {
		return false, nil
	}

	if err := tx.Vouchers().MarkExpired(ctx, voucher.Code); err != nil {
		return false, fmt.Errorf("mark voucher expired: %w", err)
	}
	event, err := domain.NewVoucherExhaustedEvent(voucher, orderID, now)
	if err != nil {
		return false, err
	}
	if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
		return false, fmt.Errorf("enqueue voucher event: %w", err)
	}

	v.logger.WithFields(log.Fields{
		"voucher":     voucher.Code,
		"usage_limit": voucher.UsageLimit,
		"order_id":    orderID,
	}).Info("voucher exhausted")
	return true, nil
}
