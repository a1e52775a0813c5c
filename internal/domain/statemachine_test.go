package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusRefused,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCanceled,
	domain.OrderStatusRefunded,
}

func ptr[T any](v T) *T { return &v }

func pendingOrder() domain.Order {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "order-1",
		Number:        "ORD-20261014-00001",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		PaymentMethod: domain.PaymentMethodCOD,
		Items:         []domain.OrderItem{{ID: "i1", ProductID: "A", Qty: 3, PriceMinor: 10}},
		TotalMinor:    30,
		PayableMinor:  30,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCanceled, domain.OrderStatusRefused},
		domain.OrderStatusConfirmed: {domain.OrderStatusShipped, domain.OrderStatusCanceled},
		domain.OrderStatusShipped:   {domain.OrderStatusDelivered},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, target := range allowed[from] {
				if target == to {
					want = true
				}
			}
			assert.Equalf(t, want, domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusDelivered, domain.OrderStatusCanceled, domain.OrderStatusRefunded, domain.OrderStatusRefused,
	} {
		assert.True(t, domain.IsTerminal(status), status)
	}
	assert.False(t, domain.IsTerminal(domain.OrderStatusPending))
}

func TestApplyChange_PendingToShippedIsInvalid(t *testing.T) {
	order := pendingOrder()
	actor := domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

	updated, _, err := domain.ApplyChange(order, domain.OrderChange{
		Status:         ptr(domain.OrderStatusShipped),
		TrackingNumber: ptr("TRK-1"),
	}, actor, time.Now())

	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.OrderStatusPending, invalid.From)
	assert.Equal(t, domain.OrderStatusShipped, invalid.To)
	assert.Equal(t, domain.OrderStatusPending, updated.Status)
	assert.Empty(t, updated.TrackingNumber)
	assert.Empty(t, updated.History)
}

func TestApplyChange_FromTerminalAlwaysFails(t *testing.T) {
	actor := domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
	for _, terminal := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCanceled, domain.OrderStatusRefunded} {
		for _, target := range allStatuses {
			if target == terminal {
				continue
			}
			order := pendingOrder()
			order.Status = terminal

			updated, _, err := domain.ApplyChange(order, domain.OrderChange{Status: ptr(target)}, actor, time.Now())
			var invalid *domain.InvalidTransitionError
			require.ErrorAsf(t, err, &invalid, "%s -> %s", terminal, target)
			assert.Equal(t, terminal, updated.Status)
		}
	}
}

func TestApplyChange_RecordsHistoryWithDeltas(t *testing.T) {
	order := pendingOrder()
	actor := domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
	at := order.CreatedAt.Add(time.Hour)

	updated, entry, err := domain.ApplyChange(order, domain.OrderChange{
		Status:        ptr(domain.OrderStatusConfirmed),
		PaymentStatus: ptr(domain.PaymentStatusPaid),
		Note:          ptr("  call before delivery "),
	}, actor, at)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, "call before delivery", updated.Note)
	assert.Equal(t, at, updated.UpdatedAt)
	require.Len(t, updated.History, 1)

	assert.Equal(t, actor, entry.Actor)
	assert.Equal(t, domain.OrderStatusPending, entry.FromStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, entry.ToStatus)
	assert.Equal(t, []domain.FieldChange{
		{Field: "status", From: "pending", To: "confirmed"},
		{Field: "payment_status", From: "unpaid", To: "paid"},
		{Field: "note", From: "", To: "call before delivery"},
	}, entry.Changes)

	// Исходный заказ не изменился.
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Empty(t, order.History)
}

func TestApplyChange_PaymentStatusIsUnconstrained(t *testing.T) {
	order := pendingOrder()
	order.Status = domain.OrderStatusDelivered
	order.PaymentStatus = domain.PaymentStatusRefunded
	actor := domain.Actor{UserID: "gw", Role: domain.RoleGateway}

	updated, entry, err := domain.ApplyChange(order, domain.OrderChange{PaymentStatus: ptr(domain.PaymentStatusUnpaid)}, actor, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusUnpaid, updated.PaymentStatus)
	assert.Equal(t, domain.OrderStatusDelivered, entry.FromStatus)
	assert.Equal(t, domain.OrderStatusDelivered, entry.ToStatus)
}

func TestApplyChange_NoChanges(t *testing.T) {
	order := pendingOrder()
	order.TrackingNumber = "TRK-1"
	actor := domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

	tests := []struct {
		name   string
		change domain.OrderChange
	}{
		{name: "empty change"},
		{name: "same status", change: domain.OrderChange{Status: ptr(domain.OrderStatusPending)}},
		{name: "same payment status", change: domain.OrderChange{PaymentStatus: ptr(domain.PaymentStatusUnpaid)}},
		{name: "same tracking", change: domain.OrderChange{TrackingNumber: ptr(" TRK-1 ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := domain.ApplyChange(order, tt.change, actor, time.Now())
			assert.ErrorIs(t, err, domain.ErrNoChanges)
		})
	}
}

func TestApplyChange_UnknownValues(t *testing.T) {
	order := pendingOrder()
	actor := domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

	_, _, err := domain.ApplyChange(order, domain.OrderChange{Status: ptr(domain.OrderStatus("lost"))}, actor, time.Now())
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)

	_, _, err = domain.ApplyChange(order, domain.OrderChange{PaymentStatus: ptr(domain.PaymentStatus("maybe"))}, actor, time.Now())
	assert.ErrorIs(t, err, domain.ErrUnknownPaymentStatus)
	assert.True(t, errors.Is(err, domain.ErrUnknownPaymentStatus))
}
