package query

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
)

// Service — read-сторона заказов: карточка по id и постраничный поиск.
type Service struct {
	orders  domain.OrderReader
	cache   domain.OrderCache
	metrics *metrics.OrderMetrics
	logger  *log.Entry
}

// NewService создаёт сервис чтения. cache может быть nil.
func NewService(orders domain.OrderReader, cache domain.OrderCache, orderMetrics *metrics.OrderMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-query")
	}
	return &Service{orders: orders, cache: cache, metrics: orderMetrics, logger: logger}
}

// GetByID возвращает заказ владельцу или администратору.
// Для остальных покупателей заказ считается несуществующим.
func (s *Service) GetByID(ctx context.Context, id string, actor domain.Actor) (domain.Order, error) {
	if actor.UserID == "" || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleCustomer) {
		return domain.Order{}, domain.ErrForbidden
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if actor.Role == domain.RoleCustomer && order.UserID != actor.UserID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает страницу заказов. Покупатель видит только свои заказы.
func (s *Service) List(ctx context.Context, filter domain.OrderFilter, actor domain.Actor) (domain.OrderPage, error) {
	if actor.UserID == "" || !actor.Role.Valid() {
		return domain.OrderPage{}, domain.ErrForbidden
	}
	if actor.Role == domain.RoleCustomer {
		filter.UserID = actor.UserID
	}

	filter, err := filter.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("%w: list orders: %v", domain.ErrInfrastructure, err)
	}
	return page, nil
}

// load читает заказ через кэш; сбой кэша деградирует до чтения из хранилища.
func (s *Service) load(ctx context.Context, id string) (domain.Order, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, id)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("order_id", id).Warn("order cache read failed")
		case ok:
			s.metrics.RecordCache(true)
			return cached, nil
		default:
			s.metrics.RecordCache(false)
		}
	}

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: get order: %v", domain.ErrInfrastructure, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, order); err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("order cache write failed")
		}
	}
	return order, nil
}
