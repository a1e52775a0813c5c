package query_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, id string) (domain.Order, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Order), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, order domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) Get(ctx context.Context, id string) (domain.Order, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Order), args.Error(1)
}

func (m *mockReader) List(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(domain.OrderPage), args.Error(1)
}
