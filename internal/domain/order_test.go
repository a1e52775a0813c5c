package domain_test

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

func TestValidateItems(t *testing.T) {
	tests := []struct {
		name    string
		items   []domain.OrderItem
		wantErr error
	}{
		{name: "empty", wantErr: domain.ErrEmptyCart},
		{name: "zero qty", items: []domain.OrderItem{{ProductID: "A", Qty: 0, PriceMinor: 10}}, wantErr: domain.ErrInvalidQuantity},
		{name: "negative qty", items: []domain.OrderItem{{ProductID: "A", Qty: -1, PriceMinor: 10}}, wantErr: domain.ErrInvalidQuantity},
		{name: "negative price", items: []domain.OrderItem{{ProductID: "A", Qty: 1, PriceMinor: -1}}, wantErr: domain.ErrInvalidPrice},
		{name: "missing product", items: []domain.OrderItem{{Qty: 1}}, wantErr: domain.ErrProductIDRequired},
		{name: "line overflows", items: []domain.OrderItem{{ProductID: "A", Qty: 2, PriceMinor: math.MaxInt64/2 + 1}}, wantErr: domain.ErrTotalOverflow},
		{
			name: "sum overflows",
			items: []domain.OrderItem{
				{ProductID: "A", Qty: 1, PriceMinor: math.MaxInt64 - 5},
				{ProductID: "B", Qty: 2, PriceMinor: 3},
			},
			wantErr: domain.ErrTotalOverflow,
		},
		{name: "max total", items: []domain.OrderItem{{ProductID: "A", Qty: 1, PriceMinor: math.MaxInt64}}},
		{name: "ok", items: []domain.OrderItem{{ProductID: "A", Qty: 1, PriceMinor: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateItems(tt.items)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestItemsTotal(t *testing.T) {
	items := []domain.OrderItem{
		{ProductID: "A", Qty: 3, PriceMinor: 10},
		{ProductID: "B", Qty: 2, PriceMinor: 250},
	}
	assert.Equal(t, int64(530), domain.ItemsTotal(items))
}

func TestOrderValidateInvariants(t *testing.T) {
	order := pendingOrder()
	assert.Empty(t, order.ValidateInvariants())

	order.TotalMinor = 31
	assert.Contains(t, order.ValidateInvariants(), domain.ErrTotalMismatch)
}

func TestShippingAddressValidate(t *testing.T) {
	addr := domain.ShippingAddress{FullName: "Ivan", Phone: "+7000", Line1: "Lenina 1", City: "Kazan", Country: "RU"}
	require.NoError(t, addr.Validate())

	addr.City = " "
	assert.ErrorIs(t, addr.Validate(), domain.ErrShippingAddressInvalid)
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := domain.ParsePaymentMethod(" cod ")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCOD, method)
	assert.Equal(t, domain.PaymentStatusUnpaid, method.InitialPaymentStatus())

	method, err = domain.ParsePaymentMethod("Gateway")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, method.InitialPaymentStatus())

	_, err = domain.ParsePaymentMethod("barter")
	assert.ErrorIs(t, err, domain.ErrPaymentMethodInvalid)
}

func TestOrderNumberFormatAndParse(t *testing.T) {
	day := time.Date(2026, 10, 14, 23, 59, 0, 0, time.UTC)
	number := domain.FormatOrderNumber("ORD", day, 7)
	assert.Equal(t, "ORD-20261014-00007", number)

	seq, err := domain.ParseOrderSequence(number, domain.OrderNumberDayPrefix("ORD", day))
	require.NoError(t, err)
	assert.Equal(t, 7, seq)

	seq, err = domain.ParseOrderSequence("ORD-20261014-123456", "ORD-20261014-")
	require.NoError(t, err)
	assert.Equal(t, 123456, seq)

	_, err = domain.ParseOrderSequence("ORD-20261013-00001", "ORD-20261014-")
	assert.Error(t, err)
	_, err = domain.ParseOrderSequence("ORD-20261014-x1", "ORD-20261014-")
	assert.Error(t, err)
}

func TestOrderFilterNormalize(t *testing.T) {
	f, err := domain.OrderFilter{Page: -3, PageSize: 1000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, domain.MaxPageSize, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f, err = domain.OrderFilter{Page: 3}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPageSize, f.PageSize)
	assert.Equal(t, 40, f.Offset())

	_, err = domain.OrderFilter{Status: "lost"}.Normalize()
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
	_, err = domain.OrderFilter{PaymentStatus: "maybe"}.Normalize()
	assert.ErrorIs(t, err, domain.ErrUnknownPaymentStatus)
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.ErrOrderNumberTaken))
	assert.True(t, domain.IsRetryable(domain.ErrTxConflict))
	assert.False(t, domain.IsRetryable(domain.ErrInfrastructure))
	assert.True(t, domain.IsVoucherRejection(domain.ErrVoucherPerUserLimitReached))
	assert.False(t, domain.IsVoucherRejection(domain.ErrEmptyCart))

	oos := &domain.OutOfStockError{ProductIDs: []string{"A", "B"}}
	assert.Equal(t, "insufficient stock for products: A, B", oos.Error())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{domain.ErrEmptyCart, "empty_cart"},
		{domain.ErrTotalOverflow, "total_overflow"},
		{fmt.Errorf("validate voucher: %w", domain.ErrVoucherExpired), "voucher_expired"},
		{&domain.OutOfStockError{ProductIDs: []string{"A"}}, "out_of_stock"},
		{fmt.Errorf("apply: %w", &domain.InvalidTransitionError{From: "pending", To: "shipped"}), "invalid_transition"},
		{fmt.Errorf("%w: dial tcp", domain.ErrInfrastructure), "infrastructure_failure"},
		{errors.New("boom"), "infrastructure_failure"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.ErrorCode(tt.err), "err=%v", tt.err)
	}

	assert.True(t, domain.IsBusinessRejection(&domain.OutOfStockError{}))
	assert.True(t, domain.IsBusinessRejection(domain.ErrNoChanges))
	assert.False(t, domain.IsBusinessRejection(domain.ErrEmptyCart))
}
