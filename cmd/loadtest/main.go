package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	ordersPath        = "/api/v1/orders"
	headerUserID      = "X-User-ID"
	headerUserRole    = "X-User-Role"
	headerIdempotency = "Idempotency-Key"
	codeTransport     = "transport_error"
)

type config struct {
	baseURL      string
	total        int
	concurrency  int
	timeout      time.Duration
	productID    string
	qty          int
	priceMinor   int64
	voucherCode  string
	stock        int64
	voucherLimit int
	users        int
	outputPath   string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt       time.Time        `json:"started_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	Requests        int64            `json:"requests"`
	Placed          int64            `json:"placed"`
	Rejected        int64            `json:"rejected"`
	Failed          int64            `json:"failed"`
	RPS             float64          `json:"rps"`
	Codes           map[string]int64 `json:"codes"`
	LatencyMs       latencySummary   `json:"latency_ms"`
	Violations      []string         `json:"violations,omitempty"`
}

// outcome описывает результат одного запроса оформления.
type outcome struct {
	status  int
	code    string
	number  string
	latency time.Duration
}

type collector struct {
	mu        sync.Mutex
	requests  int64
	placed    int64
	rejected  int64
	failed    int64
	codes     map[string]int64
	numbers   map[string]int
	latencies []float64
}

func newCollector() *collector {
	return &collector{
		codes:   make(map[string]int64),
		numbers: make(map[string]int),
	}
}

func (c *collector) record(o outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	switch {
	case o.status == http.StatusCreated:
		c.placed++
		if o.number != "" {
			c.numbers[o.number]++
		}
	case o.status >= 400 && o.status < 500:
		c.rejected++
	default:
		c.failed++
	}
	c.codes[codeKey(o)]++
	c.latencies = append(c.latencies, float64(o.latency.Microseconds())/1000.0)
}

func codeKey(o outcome) string {
	if o.status == 0 {
		return codeTransport
	}
	if o.code == "" {
		return fmt.Sprintf("%d", o.status)
	}
	return fmt.Sprintf("%d %s", o.status, o.code)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	codesCopy := make(map[string]int64, len(c.codes))
	for code, count := range c.codes {
		codesCopy[code] = count
	}
	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Requests:        c.requests,
		Placed:          c.placed,
		Rejected:        c.rejected,
		Failed:          c.failed,
		Codes:           codesCopy,
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	if duration > 0 {
		result.RPS = float64(c.requests) / duration.Seconds()
	}
	for number, count := range c.numbers {
		if count > 1 {
			result.Violations = append(result.Violations, fmt.Sprintf("order number %s issued %d times", number, count))
		}
	}
	sort.Strings(result.Violations)
	return result
}

// checkInvariants дополняет отчёт нарушениями: перепродажа склада и
// перерасход ваучера проверяются, только если заданы -stock и -voucher-limit.
func checkInvariants(result *report, cfg config) {
	if cfg.stock > 0 && result.Placed*int64(cfg.qty) > cfg.stock {
		result.Violations = append(result.Violations,
			fmt.Sprintf("oversell: placed %d units with stock %d", result.Placed*int64(cfg.qty), cfg.stock))
	}
	if cfg.voucherCode != "" && cfg.voucherLimit > 0 && result.Placed > int64(cfg.voucherLimit) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("voucher %s used %d times with limit %d", cfg.voucherCode, result.Placed, cfg.voucherLimit))
	}
}

func parseConfig(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "order service base URL")
	fs.IntVar(&cfg.total, "total", 200, "total placement requests")
	fs.IntVar(&cfg.concurrency, "concurrency", 50, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&cfg.productID, "product", "sku-limited", "contended product id")
	fs.IntVar(&cfg.qty, "qty", 1, "units per order")
	fs.Int64Var(&cfg.priceMinor, "price-minor", 1000, "unit price in minor units")
	fs.StringVar(&cfg.voucherCode, "voucher", "", "optional voucher code applied to every order")
	fs.Int64Var(&cfg.stock, "stock", 0, "initial stock of the product; enables the oversell check")
	fs.IntVar(&cfg.voucherLimit, "voucher-limit", 0, "global voucher limit; enables the voucher check")
	fs.IntVar(&cfg.users, "users", 0, "number of distinct customers (0 = one per request)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("base-url is required")
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.priceMinor <= 0:
		return cfg, errors.New("price-minor must be > 0")
	case cfg.stock < 0 || cfg.voucherLimit < 0 || cfg.users < 0:
		return cfg, errors.New("stock, voucher-limit and users must be >= 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
		},
	}
	result := runLoad(ctx, client, cfg)
	checkInvariants(&result, cfg)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if len(result.Violations) > 0 || result.Failed > 0 {
		os.Exit(1)
	}
}

// runLoad отправляет cfg.total параллельных оформлений одного товара.
func runLoad(ctx context.Context, client *http.Client, cfg config) report {
	startedAt := time.Now()
	runID := uuid.NewString()[:8]
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := 0; worker < cfg.concurrency; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				col.record(placeOrder(ctx, client, cfg, runID, index))
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg.total)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, total int) {
	defer close(jobs)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

func userFor(cfg config, runID string, index int) string {
	if cfg.users > 0 {
		index %= cfg.users
	}
	return fmt.Sprintf("load-%s-%d", runID, index)
}

func placeOrder(ctx context.Context, client *http.Client, cfg config, runID string, index int) outcome {
	body, err := json.Marshal(map[string]any{
		"items": []map[string]any{{
			"product_id":  cfg.productID,
			"name":        cfg.productID,
			"qty":         cfg.qty,
			"price_minor": cfg.priceMinor,
		}},
		"shipping": map[string]string{
			"full_name": "Load Test",
			"phone":     "+70000000000",
			"line1":     "Load street 1",
			"city":      "Moscow",
			"country":   "RU",
		},
		"payment_method": "cod",
		"voucher_code":   cfg.voucherCode,
	})
	if err != nil {
		return outcome{}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return outcome{latency: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, userFor(cfg, runID, index))
	req.Header.Set(headerUserRole, "customer")
	req.Header.Set(headerIdempotency, fmt.Sprintf("lt-%s-%d", runID, index))

	resp, err := client.Do(req)
	if err != nil {
		return outcome{latency: time.Since(start)}
	}
	defer resp.Body.Close()

	var payload struct {
		Number string `json:"number"`
		Code   string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return outcome{
		status:  resp.StatusCode,
		code:    payload.Code,
		number:  payload.Number,
		latency: time.Since(start),
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "product=%s qty=%d voucher=%q requests=%d placed=%d rejected=%d failed=%d\n",
		cfg.productID, cfg.qty, cfg.voucherCode,
		result.Requests, result.Placed, result.Rejected, result.Failed,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min,
		result.LatencyMs.Avg,
		result.LatencyMs.P50,
		result.LatencyMs.P95,
		result.LatencyMs.P99,
		result.LatencyMs.Max,
	)

	codes := make([]string, 0, len(result.Codes))
	for code := range result.Codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		_, _ = fmt.Fprintf(w, "  %s: %d\n", code, result.Codes[code])
	}

	if len(result.Violations) == 0 {
		_, _ = fmt.Fprintln(w, "invariants: ok")
		return
	}
	for _, violation := range result.Violations {
		_, _ = fmt.Fprintf(w, "VIOLATION: %s\n", violation)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
