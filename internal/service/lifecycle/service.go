package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
)

// Service применяет переходы машины состояний к сохранённым заказам.
// Переходы по одному заказу сериализуются блокировкой строки.
type Service struct {
	tx      domain.Transactor
	cache   domain.OrderCache
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewService создаёт сервис переходов. cache и metrics могут быть nil.
func NewService(tx domain.Transactor, cache domain.OrderCache, orderMetrics *metrics.OrderMetrics, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	return &Service{
		tx:      tx,
		cache:   cache,
		metrics: orderMetrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (используется в тестах).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Transition перечитывает заказ под блокировкой, проверяет права вызывающего
// и применяет изменение. Успешный вызов добавляет одну запись в историю.
func (s *Service) Transition(ctx context.Context, orderID string, change domain.OrderChange, actor domain.Actor) (domain.Order, error) {
	if !actor.Role.Valid() || actor.UserID == "" {
		return domain.Order{}, domain.ErrForbidden
	}

	var (
		updated domain.Order
		entry   domain.HistoryEntry
		events  int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(current, change, actor); err != nil {
			return err
		}

		next, historyEntry, err := domain.ApplyChange(current, change, actor, s.now())
		if err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, next); err != nil {
			return err
		}
		if err := tx.History().Append(ctx, historyEntry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		events, err = enqueueEvents(ctx, tx.Outbox(), current, next, historyEntry)
		if err != nil {
			return err
		}

		next.Version = current.Version + 1
		updated, entry = next, historyEntry
		return nil
	})
	if err != nil {
		err = classify(err)
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"actor":    actor.UserID,
			"role":     actor.Role,
			"code":     domain.ErrorCode(err),
		}).Info("order transition rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordTransition(string(entry.FromStatus), string(entry.ToStatus))
	s.metrics.RecordOutboxEnqueued(events)
	s.invalidate(ctx, orderID)

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     entry.FromStatus,
		"to":       entry.ToStatus,
		"changes":  len(entry.Changes),
		"actor":    actor.UserID,
		"role":     actor.Role,
	}).Info("order updated")
	return updated, nil
}

// Cancel переводит заказ в canceled по запросу владельца или администратора.
func (s *Service) Cancel(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	canceled := domain.OrderStatusCanceled
	return s.Transition(ctx, orderID, domain.OrderChange{Status: &canceled}, actor)
}

// ReportPayment применяет отчёт платёжного шлюза: меняется только статус оплаты.
func (s *Service) ReportPayment(ctx context.Context, orderID string, status domain.PaymentStatus, actor domain.Actor) (domain.Order, error) {
	return s.Transition(ctx, orderID, domain.OrderChange{PaymentStatus: &status}, actor)
}

// authorize проверяет права роли на изменение. Чужой заказ покупателю не виден.
func authorize(order domain.Order, change domain.OrderChange, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleGateway:
		if change.Status != nil || change.TrackingNumber != nil || change.Note != nil {
			return domain.ErrForbidden
		}
		return nil
	case domain.RoleCustomer:
		if order.UserID != actor.UserID {
			return domain.ErrOrderNotFound
		}
		if change.Status == nil || *change.Status != domain.OrderStatusCanceled ||
			change.PaymentStatus != nil || change.TrackingNumber != nil || change.Note != nil {
			return domain.ErrForbidden
		}
		return nil
	default:
		return domain.ErrForbidden
	}
}

func enqueueEvents(ctx context.Context, outbox domain.OutboxRepository, before, after domain.Order, entry domain.HistoryEntry) (int, error) {
	var types []string
	if before.Status != after.Status {
		types = append(types, domain.EventOrderStatusChanged)
	}
	if before.PaymentStatus != after.PaymentStatus {
		types = append(types, domain.EventOrderPaymentStatusChanged)
	}

	for _, eventType := range types {
		msg, err := domain.NewOrderEvent(eventType, after, &entry, entry.Occurred)
		if err != nil {
			return 0, err
		}
		if _, err := outbox.Enqueue(ctx, msg); err != nil {
			return 0, fmt.Errorf("enqueue %s: %w", eventType, err)
		}
	}
	return len(types), nil
}

// invalidate сбрасывает кэш после коммита; ошибка кэша не отменяет переход.
func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to invalidate order cache")
	}
}

func classify(err error) error {
	var transitionErr *domain.InvalidTransitionError
	switch {
	case errors.As(err, &transitionErr),
		domain.IsValidation(err),
		errors.Is(err, domain.ErrNoChanges),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrTxConflict),
		errors.Is(err, domain.ErrInfrastructure):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
}
