package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
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

func newOrderServer(t *testing.T, stock int64, vouchers ...domain.Voucher) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.PutProduct("sku-limited", "Limited edition mug", stock)
	for _, v := range vouchers {
		store.PutVoucher(v)
	}
	handler := httpapi.NewHandler(
		placement.NewOrchestrator(store, nil, nil, placement.DefaultRetryConfig(), nil, nil),
		lifecycle.NewService(store, nil, nil, nil),
		query.NewService(store.Orders(), nil, nil, nil),
		idempotency.NewGuard(store.Idempotency(), time.Hour, nil, nil),
		nil,
	)
	srv := httptest.NewServer(httpapi.NewRouter(handler, nil))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config {
	return config{
		baseURL:     baseURL,
		total:       40,
		concurrency: 20,
		timeout:     5 * time.Second,
		productID:   "sku-limited",
		qty:         1,
		priceMinor:  1000,
	}
}

func TestRunLoad_NoOversellUnderContention(t *testing.T) {
	srv := newOrderServer(t, 10)
	cfg := testConfig(srv.URL)
	cfg.stock = 10

	result := runLoad(context.Background(), srv.Client(), cfg)
	checkInvariants(&result, cfg)

	assert.Equal(t, int64(40), result.Requests)
	assert.Equal(t, int64(10), result.Placed)
	assert.Equal(t, int64(30), result.Rejected)
	assert.Zero(t, result.Failed)
	assert.Equal(t, int64(10), result.Codes["201"])
	assert.Equal(t, int64(30), result.Codes["409 out_of_stock"])
	assert.Empty(t, result.Violations)
}

func TestRunLoad_VoucherLimitHolds(t *testing.T) {
	srv := newOrderServer(t, 100, domain.Voucher{
		Code:            "LAST5",
		DiscountPercent: 50,
		ExpiresAt:       time.Now().Add(time.Hour),
		UsageLimit:      5,
		Status:          domain.VoucherStatusActive,
	})
	cfg := testConfig(srv.URL)
	cfg.voucherCode = "LAST5"
	cfg.voucherLimit = 5
	cfg.stock = 100

	result := runLoad(context.Background(), srv.Client(), cfg)
	checkInvariants(&result, cfg)

	assert.Equal(t, int64(5), result.Placed)
	assert.Equal(t, int64(35), result.Codes["409 voucher_global_limit_reached"])
	assert.Empty(t, result.Violations)
}

func TestRunLoad_TransportErrorsAreFailures(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.total = 3
	cfg.concurrency = 1
	cfg.timeout = time.Second

	result := runLoad(context.Background(), &http.Client{Timeout: time.Second}, cfg)
	assert.Equal(t, int64(3), result.Failed)
	assert.Equal(t, int64(3), result.Codes[codeTransport])
}

func TestRunLoad_CanceledContextStopsDispatch(t *testing.T) {
	srv := newOrderServer(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runLoad(ctx, srv.Client(), testConfig(srv.URL))
	assert.LessOrEqual(t, result.Requests, int64(40))
	assert.Zero(t, result.Placed)
}

func TestCheckInvariants(t *testing.T) {
	cfg := config{qty: 2, stock: 10, voucherCode: "LAST5", voucherLimit: 3}
	result := report{Placed: 6}
	checkInvariants(&result, cfg)

	require.Len(t, result.Violations, 2)
	assert.Contains(t, result.Violations[0], "oversell")
	assert.Contains(t, result.Violations[1], "voucher LAST5")

	clean := report{Placed: 3}
	checkInvariants(&clean, cfg)
	assert.Empty(t, clean.Violations)

	unchecked := report{Placed: 1000}
	checkInvariants(&unchecked, config{qty: 1})
	assert.Empty(t, unchecked.Violations)
}

func TestCollector_DuplicateNumbersAreViolations(t *testing.T) {
	col := newCollector()
	col.record(outcome{status: http.StatusCreated, number: "ORD-20261014-00001", latency: time.Millisecond})
	col.record(outcome{status: http.StatusCreated, number: "ORD-20261014-00001", latency: 2 * time.Millisecond})
	col.record(outcome{status: http.StatusConflict, code: "out_of_stock", latency: 3 * time.Millisecond})
	col.record(outcome{status: http.StatusInternalServerError, code: "infrastructure_failure"})
	col.record(outcome{})

	result := col.buildReport(time.Now(), time.Second)
	assert.Equal(t, int64(5), result.Requests)
	assert.Equal(t, int64(2), result.Placed)
	assert.Equal(t, int64(1), result.Rejected)
	assert.Equal(t, int64(2), result.Failed)
	assert.Equal(t, int64(1), result.Codes[codeTransport])
	assert.InDelta(t, 5.0, result.RPS, 0.001)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0], "ORD-20261014-00001")
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-base-url=http://svc:8080/", "-total=10", "-voucher=LAST5", "-stock=5", "-users=2"})
	require.NoError(t, err)
	assert.Equal(t, "http://svc:8080", cfg.baseURL)
	assert.Equal(t, 10, cfg.total)
	assert.Equal(t, "LAST5", cfg.voucherCode)
	assert.Equal(t, int64(5), cfg.stock)
	assert.Equal(t, 2, cfg.users)

	invalid := [][]string{
		{"-total=0"},
		{"-concurrency=0"},
		{"-timeout=0s"},
		{"-product= "},
		{"-qty=0"},
		{"-price-minor=0"},
		{"-stock=-1"},
		{"-base-url="},
		{"-unknown"},
	}
	for _, args := range invalid {
		_, err := parseConfig(args)
		assert.Error(t, err, args)
	}
}

func TestUserFor(t *testing.T) {
	cfg := config{users: 2}
	assert.Equal(t, userFor(cfg, "run", 0), userFor(cfg, "run", 2))
	assert.NotEqual(t, userFor(cfg, "run", 0), userFor(cfg, "run", 1))
	assert.NotEqual(t, userFor(config{}, "run", 0), userFor(config{}, "run", 2))
}

func TestPercentileAndSummary(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 0.0001)

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 4.0, summary.Max)
	assert.Equal(t, 2.5, summary.Avg)
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	require.NoError(t, writeJSONReport("report.json", report{Requests: 3, Placed: 1}))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)

	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, int64(3), decoded.Requests)

	assert.Error(t, writeJSONReport(".", report{}))
	assert.Error(t, writeJSONReport("../escape.json", report{}))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		Requests: 2,
		Placed:   1,
		Rejected: 1,
		Codes:    map[string]int64{"201": 1, "409 out_of_stock": 1},
	}, config{productID: "sku-limited", qty: 1})
	assert.Contains(t, out.String(), "placed=1")
	assert.Contains(t, out.String(), "409 out_of_stock: 1")
	assert.Contains(t, out.String(), "invariants: ok")

	out.Reset()
	printReport(&out, report{Violations: []string{"oversell: placed 11 units with stock 10"}}, config{})
	assert.True(t, strings.Contains(out.String(), "VIOLATION: oversell"))
}
