package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/sequence"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/voucher"
)

// PlaceOrderRequest содержит входные данные оформления заказа.
type PlaceOrderRequest struct {
	UserID        string
	Items         []Item
	Shipping      domain.ShippingAddress
	PaymentMethod string
	VoucherCode   string
	// ClientTotalMinor игнорируется: сумма всегда пересчитывается по позициям.
	ClientTotalMinor *int64
}

// Item — позиция корзины с ценой из каталога на момент оформления.
type Item struct {
	ProductID  string
	Name       string
	Qty        int32
	PriceMinor int64
}

// Orchestrator оформляет заказ одной атомарной операцией:
// ваучер, резерв склада, номер, вставка заказа, исчерпание ваучера, outbox.
type Orchestrator struct {
	tx       domain.Transactor
	vouchers *voucher.Validator
	numbers  *sequence.Generator
	retry    RetryConfig
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewOrchestrator создаёт оркестратор оформления. metrics может быть nil.
func NewOrchestrator(
	tx domain.Transactor,
	vouchers *voucher.Validator,
	numbers *sequence.Generator,
	retry RetryConfig,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "placement")
	}
	if vouchers == nil {
		vouchers = voucher.NewValidator(logger)
	}
	if numbers == nil {
		numbers = sequence.NewGenerator(sequence.DefaultPrefix, time.UTC)
	}
	return &Orchestrator{
		tx:       tx,
		vouchers: vouchers,
		numbers:  numbers,
		retry:    retry.normalized(),
		metrics:  orderMetrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (используется в тестах).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// PlaceOrder проверяет корзину и создаёт заказ в статусе pending.
// При любой ошибке никаких частичных изменений не остаётся.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	done := o.metrics.PlacementStarted()
	defer done()

	draft, err := o.prepare(req)
	if err != nil {
		o.metrics.RecordPlacement(metrics.ResultRejected, domain.ErrorCode(err))
		return domain.Order{}, err
	}

	order, err := o.placeWithRetry(ctx, draft)
	if err != nil {
		err = classify(err)
		result := metrics.ResultFailed
		if domain.IsBusinessRejection(err) || domain.IsValidation(err) {
			result = metrics.ResultRejected
		}
		o.metrics.RecordPlacement(result, domain.ErrorCode(err))

		entry := o.logger.WithError(err).WithFields(log.Fields{
			"user_id": req.UserID,
			"code":    domain.ErrorCode(err),
		})
		if result == metrics.ResultFailed {
			entry.Error("order placement failed")
		} else {
			entry.Info("order placement rejected")
		}
		return domain.Order{}, err
	}

	o.metrics.RecordPlacement(metrics.ResultPlaced, "")
	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"user_id":      order.UserID,
		"payable":      order.PayableMinor,
		"voucher":      order.VoucherCode,
	}).Info("order placed")
	return order, nil
}

// prepare валидирует запрос до любых побочных эффектов и собирает черновик заказа.
func (o *Orchestrator) prepare(req PlaceOrderRequest) (domain.Order, error) {
	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  strings.TrimSpace(item.ProductID),
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		}
	}
	if err := domain.ValidateItems(items); err != nil {
		return domain.Order{}, err
	}
	if err := req.Shipping.Validate(); err != nil {
		return domain.Order{}, err
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}

	total := domain.ItemsTotal(items)
	if req.ClientTotalMinor != nil && *req.ClientTotalMinor != total {
		o.logger.WithFields(log.Fields{
			"user_id":      userID,
			"client_total": *req.ClientTotalMinor,
			"total":        total,
		}).Debug("client total ignored")
	}

	return domain.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: method.InitialPaymentStatus(),
		PaymentMethod: method,
		Items:         items,
		TotalMinor:    total,
		PayableMinor:  total,
		VoucherCode:   domain.NormalizeVoucherCode(req.VoucherCode),
		Shipping:      req.Shipping,
	}, nil
}

func (o *Orchestrator) placeWithRetry(ctx context.Context, draft domain.Order) (domain.Order, error) {
	var lastErr error
	delay := o.retry.InitialDelay

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		order, err := o.placeOnce(ctx, draft)
		if err == nil {
			if attempt > 1 {
				o.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt,
				}).Info("order placed after retry")
			}
			return order, nil
		}
		if !domain.IsRetryable(err) {
			return domain.Order{}, err
		}
		lastErr = err

		if attempt < o.retry.MaxAttempts {
			o.metrics.RecordRetry(domain.ErrorCode(err))
			wait := o.retry.withJitter(delay)
			o.logger.WithFields(log.Fields{
				"user_id": draft.UserID,
				"attempt": attempt,
				"delay":   wait,
				"error":   err,
			}).Warn("placement conflict, retrying")

			if err := sleep(ctx, wait); err != nil {
				return domain.Order{}, fmt.Errorf("%w: wait before retry: %v", domain.ErrInfrastructure, err)
			}
			delay = o.retry.next(delay)
		}
	}

	o.logger.WithFields(log.Fields{
		"user_id":      draft.UserID,
		"max_attempts": o.retry.MaxAttempts,
		"error":        lastErr,
	}).Error("placement failed after all retry attempts")
	return domain.Order{}, fmt.Errorf("%w: %d attempts: %v", domain.ErrSequenceConflict, o.retry.MaxAttempts, lastErr)
}

// placeOnce выполняет одну попытку оформления в отдельной транзакции.
func (o *Orchestrator) placeOnce(ctx context.Context, draft domain.Order) (domain.Order, error) {
	now := o.now()
	var placed domain.Order
	var enqueued int

	err := o.tx.WithinTx(ctx, func(ctx context.Context, tx domain.TxScope) error {
		order := draft.Clone()
		order.CreatedAt = now
		order.UpdatedAt = now
		enqueued = 0

		// Ваучер проверяется до резерва: отказ не трогает склад.
		var applied *domain.Voucher
		if order.VoucherCode != "" {
			v, err := o.vouchers.Validate(ctx, tx.Vouchers(), order.VoucherCode, order.UserID, now)
			if err != nil {
				return err
			}
			applied = &v
			order.VoucherCode = v.Code
			order.DiscountMinor = v.Discount(order.TotalMinor)
		}
		order.PayableMinor = order.TotalMinor - order.DiscountMinor

		if err := reserveAll(ctx, tx.Stock(), order.Items); err != nil {
			return err
		}

		number, err := o.numbers.Next(ctx, tx.Orders(), now)
		if err != nil {
			return err
		}
		order.Number = number
		order.Version = 1

		if err := tx.Orders().Insert(ctx, order); err != nil {
			return err
		}

		if applied != nil {
			exhausted, err := o.vouchers.Settle(ctx, tx, *applied, order.ID, now)
			if err != nil {
				return err
			}
			if exhausted {
				enqueued++
			}
		}

		event, err := domain.NewOrderEvent(domain.EventOrderPlaced, order, nil, now)
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, event); err != nil {
			return fmt.Errorf("enqueue order event: %w", err)
		}
		enqueued++

		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.metrics.RecordOutboxEnqueued(enqueued)
	return placed, nil
}

// reserveAll резервирует позиции по порядку. При первой нехватке снимает
// уже сделанные резервы и возвращает OutOfStockError с этим товаром.
func reserveAll(ctx context.Context, stock domain.StockLedger, items []domain.OrderItem) error {
	reserved := make([]domain.OrderItem, 0, len(items))

	release := func() error {
		for i := len(reserved) - 1; i >= 0; i-- {
			item := reserved[i]
			if err := stock.Release(ctx, item.ProductID, item.Qty); err != nil {
				return fmt.Errorf("release %s: %w", item.ProductID, err)
			}
		}
		return nil
	}

	for _, item := range items {
		ok, err := stock.Reserve(ctx, item.ProductID, item.Qty)
		if err != nil {
			return errors.Join(fmt.Errorf("reserve %s: %w", item.ProductID, err), release())
		}
		if !ok {
			if err := release(); err != nil {
				return err
			}
			return &domain.OutOfStockError{ProductIDs: []string{item.ProductID}}
		}
		reserved = append(reserved, item)
	}
	return nil
}

// classify оставляет доменные ошибки как есть, остальное считает сбоем инфраструктуры.
func classify(err error) error {
	switch {
	case domain.IsValidation(err),
		domain.IsBusinessRejection(err),
		errors.Is(err, domain.ErrSequenceConflict),
		errors.Is(err, domain.ErrInfrastructure):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
}
