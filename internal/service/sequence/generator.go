package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// DefaultPrefix — префикс номеров заказов по умолчанию.
const DefaultPrefix = "ORD"

// Generator выдаёт номера заказов вида PREFIX-YYYYMMDD-NNNNN.
// Последовательность начинается с 1 каждый календарный день.
type Generator struct {
	prefix   string
	location *time.Location
}

// NewGenerator создаёт генератор. День вычисляется в location (UTC, если nil).
func NewGenerator(prefix string, location *time.Location) *Generator {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if location == nil {
		location = time.UTC
	}
	return &Generator{prefix: prefix, location: location}
}

// Next читает наибольший номер за день и возвращает следующий.
// Должен вызываться в транзакции оформления; коллизию ловит уникальный индекс.
func (g *Generator) Next(ctx context.Context, orders domain.OrderRepository, now time.Time) (string, error) {
	day := now.In(g.location)
	dayPrefix := domain.OrderNumberDayPrefix(g.prefix, day)

	last, err := orders.LastNumberWithPrefix(ctx, dayPrefix)
	if err != nil {
		return "", fmt.Errorf("read last order number: %w", err)
	}
	if last == "" {
		return domain.FormatOrderNumber(g.prefix, day, 1), nil
	}

	seq, err := domain.ParseOrderSequence(last, dayPrefix)
	if err != nil {
		return "", err
	}
	return domain.FormatOrderNumber(g.prefix, day, seq+1), nil
}
