package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type orderRepository struct {
	tx *txScope
}

func (r *orderRepository) Insert(_ context.Context, order domain.Order) error {
	s := r.tx.store
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderNumberTaken
	}
	if _, taken := s.numbers[order.Number]; taken {
		return domain.ErrOrderNumberTaken
	}

	order = order.Clone()
	order.History = nil
	if order.Version == 0 {
		order.Version = 1
	}
	s.orders[order.ID] = order
	s.numbers[order.Number] = order.ID
	r.tx.onRollback(func() {
		delete(s.orders, order.ID)
		delete(s.numbers, order.Number)
	})
	return nil
}

// LastNumberWithPrefix сравнивает номера сначала по длине, затем лексикографически,
// чтобы суффикс длиннее ширины паддинга оставался наибольшим.
func (r *orderRepository) LastNumberWithPrefix(_ context.Context, prefix string) (string, error) {
	var last string
	for number := range r.tx.store.numbers {
		if !strings.HasPrefix(number, prefix) {
			continue
		}
		if len(number) > len(last) || (len(number) == len(last) && number > last) {
			last = number
		}
	}
	return last, nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	return r.tx.store.order(id)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// Update сохраняет статусы и служебные поля; журнал дополняется только через History().Append.
func (r *orderRepository) Update(_ context.Context, order domain.Order) error {
	s := r.tx.store
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	next := current.Clone()
	next.Status = order.Status
	next.PaymentStatus = order.PaymentStatus
	next.TrackingNumber = order.TrackingNumber
	next.Note = order.Note
	next.UpdatedAt = order.UpdatedAt
	next.Version = current.Version + 1

	s.orders[order.ID] = next
	r.tx.onRollback(func() { s.orders[order.ID] = current })
	return nil
}

func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	return r.tx.store.listOrders(filter)
}

type historyRepository struct {
	tx *txScope
}

func (r *historyRepository) Append(_ context.Context, entry domain.HistoryEntry) error {
	s := r.tx.store
	current, ok := s.orders[entry.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	next := current
	next.History = append(append([]domain.HistoryEntry(nil), current.History...), entry)
	s.orders[entry.OrderID] = next
	r.tx.onRollback(func() {
		restored := s.orders[entry.OrderID]
		restored.History = current.History
		s.orders[entry.OrderID] = restored
	})
	return nil
}

func (r *historyRepository) List(_ context.Context, orderID string) ([]domain.HistoryEntry, error) {
	order, err := r.tx.store.order(orderID)
	if err != nil {
		return nil, err
	}
	return order.History, nil
}

// orderReader читает заказы вне транзакции.
type orderReader struct {
	store *Store
}

func (r *orderReader) Get(_ context.Context, id string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.order(id)
}

func (r *orderReader) List(_ context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.listOrders(filter)
}

// order и listOrders вызываются под s.mu.
func (s *Store) order(id string) (domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *Store) listOrders(filter domain.OrderFilter) (domain.OrderPage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}

	matched := make([]domain.Order, 0)
	for _, order := range s.orders {
		if filter.Matches(order) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Number > matched[j].Number
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.OrderPage{Total: len(matched), Page: filter.Page, PageSize: filter.PageSize}
	start := filter.Offset()
	if start >= len(matched) {
		page.Orders = []domain.Order{}
		return page, nil
	}
	end := min(start+filter.PageSize, len(matched))
	page.Orders = make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		page.Orders = append(page.Orders, order.Clone())
	}
	return page, nil
}

var (
	_ domain.OrderRepository   = (*orderRepository)(nil)
	_ domain.HistoryRepository = (*historyRepository)(nil)
	_ domain.OrderReader       = (*orderReader)(nil)
)
