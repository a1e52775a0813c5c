package httpapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// OrderLifecycleTestSuite проходит полный путь заказа через REST API.
type OrderLifecycleTestSuite struct {
	suite.Suite
	api *apiFixture
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	s.api = newFixture(s.T())
	s.api.store.PutVoucher(domain.Voucher{
		Code:            "spring10",
		DiscountPercent: 10,
		ExpiresAt:       time.Now().Add(24 * time.Hour),
		UsageLimit:      2,
		PerUserLimit:    1,
		Status:          domain.VoucherStatusActive,
	})
}

func (s *OrderLifecycleTestSuite) patch(id string, body map[string]any) map[string]any {
	w := s.api.do(s.T(), http.MethodPatch, "/api/v1/orders/"+id, "ops", "admin", body, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	return decode(s.T(), w)
}

func (s *OrderLifecycleTestSuite) TestPaidOrderIsDelivered() {
	id := s.api.place(s.T(), "u1", 2)["id"].(string)

	report := map[string]any{"order_id": id, "payment_status": "paid", "reference": "tx-42"}
	paid := s.api.do(s.T(), http.MethodPost, "/api/v1/payments/status", "gw", "gateway", report, nil)
	s.Require().Equal(http.StatusOK, paid.Code, paid.Body.String())

	s.Equal("confirmed", s.patch(id, map[string]any{"status": "confirmed"})["status"])
	shipped := s.patch(id, map[string]any{"status": "shipped", "tracking_number": " RU123456789 "})
	s.Equal("shipped", shipped["status"])
	s.Equal("RU123456789", shipped["tracking_number"])
	delivered := s.patch(id, map[string]any{"status": "delivered"})
	s.Equal("delivered", delivered["status"])
	s.Equal("paid", delivered["payment_status"])

	terminal := s.api.do(s.T(), http.MethodPost, "/api/v1/orders/"+id+"/cancel", "u1", "customer", nil, nil)
	s.Equal(http.StatusConflict, terminal.Code)
	s.Equal("invalid_transition", decode(s.T(), terminal)["code"])

	card := s.api.do(s.T(), http.MethodGet, "/api/v1/orders/"+id, "ops", "admin", nil, nil)
	s.Require().Equal(http.StatusOK, card.Code)
	s.Len(decode(s.T(), card)["history"], 4)
}

func (s *OrderLifecycleTestSuite) TestStockIsSharedBetweenCustomers() {
	s.api.place(s.T(), "u1", 3)
	s.api.place(s.T(), "u2", 2)

	w := s.api.do(s.T(), http.MethodPost, "/api/v1/orders", "u3", "customer", orderBody(1), nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("out_of_stock", decode(s.T(), w)["code"])

	left, err := s.api.store.Available(context.Background(), "sku-1")
	s.Require().NoError(err)
	s.Zero(left)
}

func (s *OrderLifecycleTestSuite) TestVoucherLimits() {
	withVoucher := func(user string) (int, map[string]any) {
		body := orderBody(1)
		body["voucher_code"] = " SPRING10 "
		w := s.api.do(s.T(), http.MethodPost, "/api/v1/orders", user, "customer", body, nil)
		return w.Code, decode(s.T(), w)
	}

	code, order := withVoucher("u1")
	s.Require().Equal(http.StatusCreated, code, order)
	s.Equal(float64(100), order["discount_minor"])
	s.Equal(float64(900), order["payable_minor"])

	code, body := withVoucher("u1")
	s.Equal(http.StatusConflict, code)
	s.Equal("voucher_per_user_limit_reached", body["code"])

	code, _ = withVoucher("u2")
	s.Require().Equal(http.StatusCreated, code)

	code, body = withVoucher("u3")
	s.Equal(http.StatusConflict, code)
	s.Equal("voucher_global_limit_reached", body["code"])

	v, ok := s.api.store.Voucher("spring10")
	s.Require().True(ok)
	s.Equal(domain.VoucherStatusExpired, v.Status)
}

func (s *OrderLifecycleTestSuite) TestRefusedOrderIsTerminal() {
	id := s.api.place(s.T(), "u1", 1)["id"].(string)

	s.Equal("refused", s.patch(id, map[string]any{"status": "refused", "note": "no answer"})["status"])

	w := s.api.do(s.T(), http.MethodPatch, "/api/v1/orders/"+id, "ops", "admin", map[string]any{"status": "confirmed"}, nil)
	s.Equal(http.StatusConflict, w.Code)
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
