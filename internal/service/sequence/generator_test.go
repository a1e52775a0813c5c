package sequence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/sequence"
)

// stubOrders отдаёт заранее заданный последний номер.
type stubOrders struct {
	domain.OrderRepository
	last       string
	err        error
	lastPrefix string
}

func (s *stubOrders) LastNumberWithPrefix(_ context.Context, prefix string) (string, error) {
	s.lastPrefix = prefix
	return s.last, s.err
}

func TestGenerator_Next(t *testing.T) {
	day := time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		last string
		want string
	}{
		{name: "first of the day", last: "", want: "ORD-20261014-00001"},
		{name: "increments", last: "ORD-20261014-00007", want: "ORD-20261014-00008"},
		{name: "overflows padding", last: "ORD-20261014-99999", want: "ORD-20261014-100000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubOrders{last: tt.last}
			got, err := sequence.NewGenerator("", nil).Next(context.Background(), repo, day)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "ORD-20261014-", repo.lastPrefix)
		})
	}
}

func TestGenerator_DayFollowsLocation(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	at := time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)

	repo := &stubOrders{}
	got, err := sequence.NewGenerator("SHOP", moscow).Next(context.Background(), repo, at)
	require.NoError(t, err)
	assert.Equal(t, "SHOP-20261015-00001", got)
}

func TestGenerator_Errors(t *testing.T) {
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	boom := errors.New("connection reset")
	_, err := sequence.NewGenerator("ORD", nil).Next(context.Background(), &stubOrders{err: boom}, day)
	assert.ErrorIs(t, err, boom)

	_, err = sequence.NewGenerator("ORD", nil).Next(context.Background(), &stubOrders{last: "ORD-20261014-abc"}, day)
	assert.Error(t, err)
}
