package httpapi_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/httpapi"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/placement"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/query"
	"github.com/vladislavdragonenkov/retail-orders/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	store  *memory.Store
	router *gin.Engine
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct("sku-1", "Kettle", 5)

	placer := placement.NewOrchestrator(store, nil, nil, placement.RetryConfig{MaxAttempts: 3}, nil, nil)
	handler := httpapi.NewHandler(
		placer,
		lifecycle.NewService(store, nil, nil, nil),
		query.NewService(store.Orders(), nil, nil, nil),
		idempotency.NewGuard(store.Idempotency(), time.Hour, nil, nil),
		nil,
	)
	return &apiFixture{store: store, router: httpapi.NewRouter(handler, nil)}
}

func (f *apiFixture) do(t *testing.T, method, path, userID, role string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(httpapi.HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(httpapi.HeaderUserRole, role)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func orderBody(qty int) map[string]any {
	return map[string]any{
		"items": []map[string]any{{"product_id": "sku-1", "name": "Kettle", "qty": qty, "price_minor": 1000}},
		"shipping": map[string]any{
			"full_name": "Anna Petrova",
			"phone":     "+79001234567",
			"line1":     "Nevsky 10",
			"city":      "Saint Petersburg",
			"country":   "RU",
		},
		"payment_method": "cod",
		"total_minor":    1,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *apiFixture) place(t *testing.T, userID string, qty int) map[string]any {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/orders", userID, "customer", orderBody(qty), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestPlaceOrder_Created(t *testing.T) {
	f := newFixture(t)

	order := f.place(t, "u1", 2)

	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "unpaid", order["payment_status"])
	assert.Equal(t, float64(2000), order["total_minor"], "client total must be ignored")
	assert.Equal(t, float64(2000), order["payable_minor"])
	assert.Regexp(t, `^ORD-\d{8}-00001$`, order["number"])

	left, err := f.store.Available(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), left)
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		role       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{name: "missing identity", body: orderBody(1), wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "unknown role", userID: "u1", role: "root", body: orderBody(1), wantStatus: http.StatusUnauthorized, wantCode: "unauthenticated"},
		{name: "gateway cannot place", userID: "gw", role: "gateway", body: orderBody(1), wantStatus: http.StatusForbidden, wantCode: "forbidden"},
		{name: "malformed json", userID: "u1", role: "customer", body: "{", wantStatus: http.StatusBadRequest, wantCode: "invalid_body"},
		{name: "empty cart", userID: "u1", role: "customer", body: map[string]any{"payment_method": "cod"}, wantStatus: http.StatusBadRequest, wantCode: "empty_cart"},
		{name: "out of stock", userID: "u1", role: "customer", body: orderBody(6), wantStatus: http.StatusConflict, wantCode: "out_of_stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/api/v1/orders", tt.userID, tt.role, tt.body, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode(t, w)["code"])
		})
	}
}

func TestPlaceOrder_OutOfStockNamesProduct(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/orders", "u1", "customer", orderBody(10), nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []any{"sku-1"}, decode(t, w)["product_ids"])
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	headers := map[string]string{httpapi.HeaderIdempotencyKey: "req-1"}

	first := f.do(t, http.MethodPost, "/api/v1/orders", "u1", "customer", orderBody(1), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	replay := f.do(t, http.MethodPost, "/api/v1/orders", "u1", "customer", orderBody(1), headers)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode(t, first)["id"], decode(t, replay)["id"])

	left, err := f.store.Available(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), left, "replay must not reserve stock again")

	conflict := f.do(t, http.MethodPost, "/api/v1/orders", "u1", "customer", orderBody(2), headers)
	require.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "idempotency_key_reused", decode(t, conflict)["code"])
}

func TestGetOrder_Visibility(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, "u1", 1)["id"].(string)

	owner := f.do(t, http.MethodGet, "/api/v1/orders/"+id, "u1", "customer", nil, nil)
	assert.Equal(t, http.StatusOK, owner.Code)

	stranger := f.do(t, http.MethodGet, "/api/v1/orders/"+id, "u2", "customer", nil, nil)
	assert.Equal(t, http.StatusNotFound, stranger.Code)
	assert.Equal(t, "order_not_found", decode(t, stranger)["code"])

	admin := f.do(t, http.MethodGet, "/api/v1/orders/"+id, "ops", "admin", nil, nil)
	assert.Equal(t, http.StatusOK, admin.Code)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.place(t, "u1", 1)
	f.place(t, "u2", 1)
	f.place(t, "u2", 1)

	own := f.do(t, http.MethodGet, "/api/v1/orders?user_id=u2", "u1", "customer", nil, nil)
	require.Equal(t, http.StatusOK, own.Code)
	assert.Equal(t, float64(1), decode(t, own)["total"], "customer sees only own orders")

	all := f.do(t, http.MethodGet, "/api/v1/orders?page=1&page_size=2", "ops", "admin", nil, nil)
	require.Equal(t, http.StatusOK, all.Code)
	body := decode(t, all)
	assert.Equal(t, float64(3), body["total"])
	assert.Len(t, body["orders"], 2)

	bad := f.do(t, http.MethodGet, "/api/v1/orders?page=x", "ops", "admin", nil, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	unknown := f.do(t, http.MethodGet, "/api/v1/orders?status=lost", "ops", "admin", nil, nil)
	assert.Equal(t, http.StatusBadRequest, unknown.Code)
	assert.Equal(t, "unknown_status", decode(t, unknown)["code"])
}

func TestUpdateOrder(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, "u1", 1)["id"].(string)
	path := "/api/v1/orders/" + id

	forbidden := f.do(t, http.MethodPatch, path, "u1", "customer", map[string]any{"status": "confirmed"}, nil)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	ok := f.do(t, http.MethodPatch, path, "ops", "admin", map[string]any{"status": "confirmed", "note": "call first"}, nil)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	body := decode(t, ok)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, float64(2), body["version"])

	noop := f.do(t, http.MethodPatch, path, "ops", "admin", map[string]any{"status": "confirmed"}, nil)
	assert.Equal(t, http.StatusConflict, noop.Code)
	assert.Equal(t, "no_changes", decode(t, noop)["code"])

	invalid := f.do(t, http.MethodPatch, path, "ops", "admin", map[string]any{"status": "delivered"}, nil)
	assert.Equal(t, http.StatusConflict, invalid.Code)
	assert.Equal(t, "invalid_transition", decode(t, invalid)["code"])

	missing := f.do(t, http.MethodPatch, "/api/v1/orders/nope", "ops", "admin", map[string]any{"status": "confirmed"}, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, "u1", 1)["id"].(string)
	path := "/api/v1/orders/" + id + "/cancel"

	stranger := f.do(t, http.MethodPost, path, "u2", "customer", nil, nil)
	assert.Equal(t, http.StatusNotFound, stranger.Code)

	owner := f.do(t, http.MethodPost, path, "u1", "customer", nil, nil)
	require.Equal(t, http.StatusOK, owner.Code, owner.Body.String())
	assert.Equal(t, "canceled", decode(t, owner)["status"])

	history := f.do(t, http.MethodGet, "/api/v1/orders/"+id, "ops", "admin", nil, nil)
	require.Equal(t, http.StatusOK, history.Code)
	assert.Len(t, decode(t, history)["history"], 1)
}

func TestReportPaymentStatus(t *testing.T) {
	f := newFixture(t)
	id := f.place(t, "u1", 1)["id"].(string)
	report := map[string]any{"order_id": id, "payment_status": "paid", "reference": "tx-1"}

	customer := f.do(t, http.MethodPost, "/api/v1/payments/status", "u1", "customer", report, nil)
	assert.Equal(t, http.StatusForbidden, customer.Code)

	first := f.do(t, http.MethodPost, "/api/v1/payments/status", "gw", "gateway", report, nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, true, decode(t, first)["applied"])

	again := f.do(t, http.MethodPost, "/api/v1/payments/status", "gw", "gateway", report, nil)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, false, decode(t, again)["applied"])

	invalid := f.do(t, http.MethodPost, "/api/v1/payments/status", "gw", "gateway", map[string]any{"order_id": id, "payment_status": "lost"}, nil)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	unknown := f.do(t, http.MethodPost, "/api/v1/payments/status", "gw", "gateway", map[string]any{"order_id": "nope", "payment_status": "paid"}, nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

type failingPlacer struct{}

func (failingPlacer) PlaceOrder(context.Context, placement.PlaceOrderRequest) (domain.Order, error) {
	return domain.Order{}, errors.Join(domain.ErrInfrastructure, errors.New("dial tcp 10.0.0.1:5432: connection refused"))
}

func TestPlaceOrder_InfrastructureDetailsHidden(t *testing.T) {
	store := memory.NewStore()
	handler := httpapi.NewHandler(failingPlacer{}, nil, query.NewService(store.Orders(), nil, nil, nil), nil, nil)
	router := httpapi.NewRouter(handler, nil)

	raw, err := json.Marshal(orderBody(1))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(raw))
	req.Header.Set(httpapi.HeaderUserID, "u1")
	req.Header.Set(httpapi.HeaderUserRole, "customer")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"code":"infrastructure_failure","message":"internal error"}`, w.Body.String())
}

func TestNoRoute(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v2/orders", "u1", "customer", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route_not_found", decode(t, w)["code"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodOptions, "/api/v1/orders", "", "", nil, map[string]string{
		"Origin":                         "https://shop.example",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": httpapi.HeaderIdempotencyKey,
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), httpapi.HeaderIdempotencyKey)
}

func TestResponsesAreCompressed(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/orders", "admin", "admin", nil, map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	reader, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	var page map[string]any
	require.NoError(t, json.NewDecoder(reader).Decode(&page))
	assert.EqualValues(t, 0, page["total"])
}
