package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AggregateOrder   = "order"
	AggregateVoucher = "voucher"

	EventOrderPlaced               = "order.placed"
	EventOrderStatusChanged        = "order.status_changed"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
	EventVoucherExhausted          = "voucher.exhausted"
)

// OrderEventPayload — тело событий заказа в outbox.
type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        string        `json:"user_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PayableMinor  int64         `json:"payable_minor"`
	VoucherCode   string        `json:"voucher_code,omitempty"`
	Changes       []FieldChange `json:"changes,omitempty"`
	Actor         *Actor        `json:"actor,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderEvent формирует outbox-сообщение по заказу.
func NewOrderEvent(eventType string, order Order, entry *HistoryEntry, at time.Time) (OutboxMessage, error) {
	payload := OrderEventPayload{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PayableMinor:  order.PayableMinor,
		VoucherCode:   order.VoucherCode,
		OccurredAt:    at,
	}
	if entry != nil {
		actor := entry.Actor
		payload.Actor = &actor
		payload.Changes = entry.Changes
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}

// NewVoucherExhaustedEvent формирует событие исчерпания ваучера.
func NewVoucherExhaustedEvent(voucher Voucher, orderID string, at time.Time) (OutboxMessage, error) {
	body, err := json.Marshal(map[string]any{
		"voucher_code": voucher.Code,
		"usage_limit":  voucher.UsageLimit,
		"order_id":     orderID,
		"occurred_at":  at,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", EventVoucherExhausted, err)
	}
	return OutboxMessage{
		AggregateType: AggregateVoucher,
		AggregateID:   voucher.Code,
		EventType:     EventVoucherExhausted,
		Payload:       body,
	}, nil
}
