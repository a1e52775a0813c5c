package domain

import "strings"

// PaymentStatus описывает состояние оплаты заказа по данным платёжного шлюза.
// Переходы между значениями не ограничены: статус лишь отражает внешний отчёт.
type PaymentStatus string

const (
	// Оплата при получении ещё не внесена.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// Платёж инициирован в шлюзе, ждём подтверждения.
	PaymentStatusPending PaymentStatus = "pending"
	// Деньги получены.
	PaymentStatusPaid PaymentStatus = "paid"
	// Шлюз отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
	// Деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус оплаты известен.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod — способ оплаты, выбранный при оформлении.
type PaymentMethod string

const (
	// Оплата при получении.
	PaymentMethodCOD PaymentMethod = "COD"
	// Онлайн-оплата через платёжный шлюз.
	PaymentMethodGateway PaymentMethod = "gateway"
)

// ParsePaymentMethod нормализует пользовательский ввод ("cod", "Gateway").
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cod":
		return PaymentMethodCOD, nil
	case "gateway":
		return PaymentMethodGateway, nil
	default:
		return "", ErrPaymentMethodInvalid
	}
}

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodGateway
}

// InitialPaymentStatus возвращает статус оплаты нового заказа.
func (m PaymentMethod) InitialPaymentStatus() PaymentStatus {
	if m == PaymentMethodGateway {
		return PaymentStatusPending
	}
	return PaymentStatusUnpaid
}
