package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/placement"
)

const maxBodyBytes = 1 << 20

// OrderPlacer оформляет заказы.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req placement.PlaceOrderRequest) (domain.Order, error)
}

// OrderLifecycle меняет статусы заказов.
type OrderLifecycle interface {
	Transition(ctx context.Context, orderID string, change domain.OrderChange, actor domain.Actor) (domain.Order, error)
	Cancel(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	ReportPayment(ctx context.Context, orderID string, status domain.PaymentStatus, actor domain.Actor) (domain.Order, error)
}

// OrderQueries читает заказы.
type OrderQueries interface {
	GetByID(ctx context.Context, id string, actor domain.Actor) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter, actor domain.Actor) (domain.OrderPage, error)
}

// Handler обслуживает REST API заказов.
type Handler struct {
	placer    OrderPlacer
	lifecycle OrderLifecycle
	queries   OrderQueries
	guard     *idempotency.Guard
	encode    func(any) ([]byte, error)
	logger    *log.Entry
}

// NewHandler создаёт обработчики. guard может быть nil: тогда Idempotency-Key игнорируется.
func NewHandler(placer OrderPlacer, lifecycle OrderLifecycle, queries OrderQueries, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{
		placer:    placer,
		lifecycle: lifecycle,
		queries:   queries,
		guard:     guard,
		encode:    json.Marshal,
		logger:    logger,
	}
}

// PlaceOrder обрабатывает POST /api/v1/orders.
func (h *Handler) PlaceOrder(c *gin.Context) {
	actor := currentActor(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_body", Message: "failed to read request body"})
		return
	}
	var req placeOrderRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_body", Message: err.Error()})
		return
	}

	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key != "" && h.guard != nil {
		replay, err := h.guard.Begin(c.Request.Context(), key, idempotency.HashRequest(actor.UserID, body))
		if err != nil {
			writeError(c, err)
			return
		}
		if replay != nil {
			c.Header(HeaderIdempotentReplayed, "true")
			c.Data(replay.HTTPStatus, "application/json; charset=utf-8", replay.Body)
			return
		}
	}

	status, payload := h.placeOrder(c.Request.Context(), actor, req)
	if key != "" && h.guard != nil {
		// Ответ сохраняется даже при отмене запроса клиентом.
		status, payload = h.remember(context.WithoutCancel(c.Request.Context()), key, status, payload)
	}
	c.JSON(status, payload)
}

// remember сохраняет ответ под ключом идемпотентности. Несериализуемый ответ
// заменяется внутренней ошибкой, и ключ закрывается как failed, а не остаётся
// в processing до истечения TTL.
func (h *Handler) remember(ctx context.Context, key string, status int, payload any) (int, any) {
	encoded, err := h.encode(payload)
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Error("failed to encode order response")
		status, payload = errorBody(fmt.Errorf("%w: encode response: %v", domain.ErrInfrastructure, err))
		encoded, _ = json.Marshal(payload)
	}
	h.guard.Complete(ctx, key, status, encoded)
	return status, payload
}

func (h *Handler) placeOrder(ctx context.Context, actor domain.Actor, req placeOrderRequest) (int, any) {
	order, err := h.placer.PlaceOrder(ctx, req.toPlacement(actor.UserID))
	if err != nil {
		status, body := errorBody(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("user_id", actor.UserID).Error("place order failed")
		}
		return status, body
	}
	return http.StatusCreated, toOrderResponse(order)
}

// GetOrder обрабатывает GET /api/v1/orders/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.queries.GetByID(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders обрабатывает GET /api/v1/orders.
func (h *Handler) ListOrders(c *gin.Context) {
	filter := domain.OrderFilter{
		UserID:        strings.TrimSpace(c.Query("user_id")),
		Status:        domain.OrderStatus(strings.TrimSpace(c.Query("status"))),
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(c.Query("payment_status"))),
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_page", Message: err.Error()})
		return
	}
	if filter.PageSize, err = queryInt(c, "page_size"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_page_size", Message: err.Error()})
		return
	}

	page, err := h.queries.List(c.Request.Context(), filter, currentActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageResponse(page))
}

// UpdateOrder обрабатывает PATCH /api/v1/orders/:id.
func (h *Handler) UpdateOrder(c *gin.Context) {
	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_body", Message: err.Error()})
		return
	}
	order, err := h.lifecycle.Transition(c.Request.Context(), c.Param("id"), req.toChange(), currentActor(c))
	h.respondOrder(c, order, err)
}

// CancelOrder обрабатывает POST /api/v1/orders/:id/cancel.
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), currentActor(c))
	h.respondOrder(c, order, err)
}

// ReportPaymentStatus обрабатывает POST /api/v1/payments/status.
func (h *Handler) ReportPaymentStatus(c *gin.Context) {
	var req paymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_body", Message: err.Error()})
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		writeError(c, domain.ErrOrderNotFound)
		return
	}

	order, err := h.lifecycle.ReportPayment(c.Request.Context(), orderID, req.PaymentStatus, currentActor(c))
	if errors.Is(err, domain.ErrNoChanges) {
		// Повторный отчёт с тем же статусом не ошибка для шлюза.
		c.JSON(http.StatusOK, gin.H{"order_id": orderID, "payment_status": req.PaymentStatus, "applied": false})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_status": order.PaymentStatus,
		"reference":      req.Reference,
	}).Info("payment status reported")
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "payment_status": order.PaymentStatus, "applied": true})
}

func (h *Handler) respondOrder(c *gin.Context, order domain.Order, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return value, nil
}
