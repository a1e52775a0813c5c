package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherStatus — жизненный цикл ваучера.
type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusExpired  VoucherStatus = "expired"
	VoucherStatusDisabled VoucherStatus = "disabled"
)

// Voucher — скидочный ваучер. Счётчик использований не хранится:
// он вычисляется по заказам, которые ссылаются на код.
type Voucher struct {
	Code            string
	DiscountPercent int
	ExpiresAt       time.Time
	UsageLimit      int
	// PerUserLimit == 0 означает отсутствие ограничения на пользователя.
	PerUserLimit int
	Status       VoucherStatus
}

// VoucherUsage считает заказы с ваучером: всего и у конкретного пользователя.
type VoucherUsage struct {
	Global  int
	PerUser int
}

// NormalizeVoucherCode приводит код к каноническому виду (верхний регистр, без пробелов).
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckStatus проверяет статус и срок действия: сначала статус, потом время.
func (v Voucher) CheckStatus(now time.Time) error {
	if v.Status != VoucherStatusActive {
		return ErrVoucherInactive
	}
	if !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt) {
		return ErrVoucherExpired
	}
	return nil
}

// CheckUsage сверяет использования с лимитами: сначала общий, потом пользовательский.
func (v Voucher) CheckUsage(usage VoucherUsage) error {
	if usage.Global >= v.UsageLimit {
		return ErrVoucherGlobalLimitReached
	}
	if v.PerUserLimit > 0 && usage.PerUser >= v.PerUserLimit {
		return ErrVoucherPerUserLimitReached
	}
	return nil
}

// ExhaustedAfter сообщает, исчерпан ли ваучер, если использований стало count.
func (v Voucher) ExhaustedAfter(count int) bool {
	return count >= v.UsageLimit
}

// Discount вычисляет скидку от суммы в минимальных единицах, округляя половину вверх.
func (v Voucher) Discount(totalMinor int64) int64 {
	if v.DiscountPercent <= 0 || totalMinor <= 0 {
		return 0
	}
	percent := v.DiscountPercent
	if percent > 100 {
		percent = 100
	}
	return decimal.NewFromInt(totalMinor).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
