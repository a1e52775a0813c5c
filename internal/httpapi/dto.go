package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/placement"
)

type placeOrderItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type placeOrderRequest struct {
	Items         []placeOrderItem       `json:"items"`
	Shipping      domain.ShippingAddress `json:"shipping"`
	PaymentMethod string                 `json:"payment_method"`
	VoucherCode   string                 `json:"voucher_code"`
	TotalMinor    *int64                 `json:"total_minor"`
}

func (r placeOrderRequest) toPlacement(userID string) placement.PlaceOrderRequest {
	items := make([]placement.Item, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, placement.Item(item))
	}
	return placement.PlaceOrderRequest{
		UserID:           userID,
		Items:            items,
		Shipping:         r.Shipping,
		PaymentMethod:    r.PaymentMethod,
		VoucherCode:      r.VoucherCode,
		ClientTotalMinor: r.TotalMinor,
	}
}

type updateOrderRequest struct {
	Status         *domain.OrderStatus   `json:"status"`
	PaymentStatus  *domain.PaymentStatus `json:"payment_status"`
	TrackingNumber *string               `json:"tracking_number"`
	Note           *string               `json:"note"`
}

func (r updateOrderRequest) toChange() domain.OrderChange {
	return domain.OrderChange{
		Status:         r.Status,
		PaymentStatus:  r.PaymentStatus,
		TrackingNumber: r.TrackingNumber,
		Note:           r.Note,
	}
}

type paymentStatusRequest struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Reference     string               `json:"reference"`
}

type orderItemResponse struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
	LineMinor  int64  `json:"line_minor"`
}

type historyEntryResponse struct {
	Actor      domain.Actor         `json:"actor"`
	FromStatus domain.OrderStatus   `json:"from_status"`
	ToStatus   domain.OrderStatus   `json:"to_status"`
	Changes    []domain.FieldChange `json:"changes"`
	OccurredAt time.Time            `json:"occurred_at"`
}

type orderResponse struct {
	ID             string                 `json:"id"`
	Number         string                 `json:"number"`
	UserID         string                 `json:"user_id"`
	Status         domain.OrderStatus     `json:"status"`
	PaymentStatus  domain.PaymentStatus   `json:"payment_status"`
	PaymentMethod  domain.PaymentMethod   `json:"payment_method"`
	Items          []orderItemResponse    `json:"items"`
	TotalMinor     int64                  `json:"total_minor"`
	DiscountMinor  int64                  `json:"discount_minor"`
	PayableMinor   int64                  `json:"payable_minor"`
	VoucherCode    string                 `json:"voucher_code,omitempty"`
	Shipping       domain.ShippingAddress `json:"shipping"`
	TrackingNumber string                 `json:"tracking_number,omitempty"`
	Note           string                 `json:"note,omitempty"`
	History        []historyEntryResponse `json:"history,omitempty"`
	Version        int64                  `json:"version"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type orderPageResponse struct {
	Orders   []orderResponse `json:"orders"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:             order.ID,
		Number:         order.Number,
		UserID:         order.UserID,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		PaymentMethod:  order.PaymentMethod,
		Items:          make([]orderItemResponse, 0, len(order.Items)),
		TotalMinor:     order.TotalMinor,
		DiscountMinor:  order.DiscountMinor,
		PayableMinor:   order.PayableMinor,
		VoucherCode:    order.VoucherCode,
		Shipping:       order.Shipping,
		TrackingNumber: order.TrackingNumber,
		Note:           order.Note,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			LineMinor:  item.LineTotal(),
		})
	}
	for _, entry := range order.History {
		resp.History = append(resp.History, historyEntryResponse{
			Actor:      entry.Actor,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			Changes:    entry.Changes,
			OccurredAt: entry.Occurred,
		})
	}
	return resp
}

func toPageResponse(page domain.OrderPage) orderPageResponse {
	resp := orderPageResponse{
		Orders:   make([]orderResponse, 0, len(page.Orders)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, order := range page.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(order))
	}
	return resp
}
