package domain

import (
	"strings"
	"time"
)

// allowedTransitions — единственная таблица допустимых переходов статуса.
// Статусы без записи (delivered, canceled, refunded, refused) терминальны.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusConfirmed: true,
		OrderStatusCanceled:  true,
		OrderStatusRefused:   true,
	},
	OrderStatusConfirmed: {
		OrderStatusShipped:  true,
		OrderStatusCanceled: true,
	},
	OrderStatusShipped: {
		OrderStatusDelivered: true,
	},
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	return allowedTransitions[from][to]
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func IsTerminal(status OrderStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// OrderChange — запрос на изменение заказа. nil-поле означает "не менять".
type OrderChange struct {
	Status         *OrderStatus
	PaymentStatus  *PaymentStatus
	TrackingNumber *string
	Note           *string
}

// ApplyChange применяет изменение к копии заказа и возвращает запись истории.
// При любой ошибке исходный заказ не меняется: изменения вносятся только в копию.
func ApplyChange(order Order, change OrderChange, actor Actor, at time.Time) (Order, HistoryEntry, error) {
	updated := order.Clone()
	entry := HistoryEntry{
		OrderID:    order.ID,
		Actor:      actor,
		FromStatus: order.Status,
		ToStatus:   order.Status,
		Occurred:   at,
	}

	if change.Status != nil && *change.Status != order.Status {
		target := *change.Status
		if !target.Valid() {
			return order, HistoryEntry{}, ErrUnknownStatus
		}
		if !CanTransition(order.Status, target) {
			return order, HistoryEntry{}, &InvalidTransitionError{From: order.Status, To: target}
		}
		updated.Status = target
		entry.ToStatus = target
		entry.Changes = append(entry.Changes, FieldChange{Field: "status", From: string(order.Status), To: string(target)})
	}

	if change.PaymentStatus != nil && *change.PaymentStatus != order.PaymentStatus {
		target := *change.PaymentStatus
		if !target.Valid() {
			return order, HistoryEntry{}, ErrUnknownPaymentStatus
		}
		updated.PaymentStatus = target
		entry.Changes = append(entry.Changes, FieldChange{Field: "payment_status", From: string(order.PaymentStatus), To: string(target)})
	}

	if change.TrackingNumber != nil {
		tracking := strings.TrimSpace(*change.TrackingNumber)
		if tracking != order.TrackingNumber {
			updated.TrackingNumber = tracking
			entry.Changes = append(entry.Changes, FieldChange{Field: "tracking_number", From: order.TrackingNumber, To: tracking})
		}
	}

	if change.Note != nil {
		note := strings.TrimSpace(*change.Note)
		if note != order.Note {
			updated.Note = note
			entry.Changes = append(entry.Changes, FieldChange{Field: "note", From: order.Note, To: note})
		}
	}

	if len(entry.Changes) == 0 {
		return order, HistoryEntry{}, ErrNoChanges
	}

	updated.UpdatedAt = at
	updated.History = append(updated.History, entry)
	return updated, entry, nil
}
