package domain

import (
	"math"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// Заказ создан, ожидает подтверждения оператором.
	OrderStatusPending OrderStatus = "pending"
	// Заказ подтверждён и готовится к отправке.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// Заказ отклонён магазином.
	OrderStatusRefused OrderStatus = "refused"
	// Заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// Заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// Заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
	// Средства по заказу возвращены.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid проверяет, что статус относится к известным значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusRefused, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderItem — позиция заказа с ценой, зафиксированной на момент оформления.
type OrderItem struct {
	ID         string
	ProductID  string
	Name       string
	Qty        int32
	PriceMinor int64
}

// LineTotal возвращает стоимость позиции: qty * price.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Qty) * i.PriceMinor
}

// ShippingAddress — адрес доставки в том виде, в каком его передал клиент.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Validate проверяет обязательные поля адреса.
func (a ShippingAddress) Validate() error {
	required := []string{a.FullName, a.Phone, a.Line1, a.City, a.Country}
	for _, field := range required {
		if strings.TrimSpace(field) == "" {
			return ErrShippingAddressInvalid
		}
	}
	return nil
}

// Order агрегирует состояние заказа, его позиции и историю изменений.
type Order struct {
	ID             string
	Number         string
	UserID         string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod
	Items          []OrderItem
	TotalMinor     int64
	DiscountMinor  int64
	PayableMinor   int64
	VoucherCode    string
	Shipping       ShippingAddress
	TrackingNumber string
	Note           string
	History        []HistoryEntry
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemsTotal пересчитывает сумму заказа по позициям.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}

// ValidateItems проверяет позиции корзины до любых побочных эффектов.
// Сумма позиций должна помещаться в int64, иначе ItemsTotal переполнится.
func ValidateItems(items []OrderItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	var total int64
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return ErrProductIDRequired
		}
		if item.Qty <= 0 {
			return ErrInvalidQuantity
		}
		if item.PriceMinor < 0 {
			return ErrInvalidPrice
		}
		if item.PriceMinor > math.MaxInt64/int64(item.Qty) {
			return ErrTotalOverflow
		}
		line := item.LineTotal()
		if total > math.MaxInt64-line {
			return ErrTotalOverflow
		}
		total += line
	}
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if err := ValidateItems(o.Items); err != nil {
		errs = append(errs, err)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if !o.PaymentStatus.Valid() {
		errs = append(errs, ErrUnknownPaymentStatus)
	}

	// Сумма всегда равна сумме позиций, скидка не может превышать сумму.
	if ItemsTotal(o.Items) != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}
	if o.DiscountMinor < 0 || o.DiscountMinor > o.TotalMinor || o.PayableMinor != o.TotalMinor-o.DiscountMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа, чтобы хранилища не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	history := make([]HistoryEntry, len(o.History))
	for i, entry := range o.History {
		history[i] = entry.clone()
	}
	o.History = history
	return o
}
