package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status описывает состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

const defaultCheckTimeout = 2 * time.Second

// Check содержит результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — тело ответа /healthz. Checks отсортированы по имени.
type Report struct {
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Checks        []Check   `json:"checks"`
}

// Pinger проверяет соединение с зависимостью (пул postgres, клиент redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type probe struct {
	name     string
	pinger   Pinger
	critical bool
}

// Handler агрегирует проверки зависимостей сервиса. Сбой критичной
// проверки делает сервис unhealthy, некритичной только degraded.
type Handler struct {
	mu      sync.RWMutex
	probes  []probe
	version string
	timeout time.Duration
	started time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{version: version, timeout: defaultCheckTimeout, started: time.Now()}
}

// Register добавляет критичную проверку. Повторное имя заменяет прежнюю.
func (h *Handler) Register(name string, p Pinger) { h.add(probe{name: name, pinger: p, critical: true}) }

// RegisterOptional добавляет некритичную проверку.
func (h *Handler) RegisterOptional(name string, p Pinger) { h.add(probe{name: name, pinger: p}) }

func (h *Handler) add(p probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = slices.DeleteFunc(h.probes, func(existing probe) bool { return existing.name == p.name })
	h.probes = append(h.probes, p)
	slices.SortFunc(h.probes, func(a, b probe) int { return strings.Compare(a.name, b.name) })
}

// Names возвращает зарегистрированные проверки по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.probes))
	for i, p := range h.probes {
		names[i] = p.name
	}
	return names
}

// Run выполняет проверки параллельно, каждую со своим таймаутом.
func (h *Handler) Run(ctx context.Context) (Status, []Check) {
	h.mu.RLock()
	probes := slices.Clone(h.probes)
	h.mu.RUnlock()

	checks := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checks[i] = h.probe(ctx, p)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}
	return overall, checks
}

func (h *Handler) probe(ctx context.Context, p probe) Check {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(ctx)
	check := Check{Name: p.name, Status: StatusHealthy, Critical: p.critical, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err == nil:
	case p.critical:
		check.Status, check.Message = StatusUnhealthy, err.Error()
	default:
		check.Status, check.Message = StatusDegraded, err.Error()
	}
	return check
}

// ServeHTTP отдаёт отчёт в JSON: 503 при unhealthy, иначе 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context())
	report := Report{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(overall))
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler готов, пока живы критичные компоненты.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	overall, _ := h.Run(r.Context())
	body := "ready"
	if overall == StatusUnhealthy {
		body = "not ready"
	}
	writeText(w, statusCode(overall), body)
}

// LivenessHandler отвечает 200, пока процесс обслуживает запросы.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
