package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления для метки result.
const (
	ResultPlaced   = "placed"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// OrderMetrics содержит метрики оформления и жизненного цикла заказов.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	placements        *prometheus.CounterVec
	placementDuration prometheus.Histogram
	placementRetries  *prometheus.CounterVec
	inFlight          prometheus.Gauge

	transitions    *prometheus.CounterVec
	historyEntries prometheus.Counter
	outboxEnqueued prometheus.Counter

	cacheRequests *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		placements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "retail_order_placements_total",
			Help: "Order placement attempts by result and rejection reason",
		}, []string{"result", "reason"}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "retail_order_placement_duration_seconds",
			Help:    "Duration of order placement including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		placementRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "retail_order_placement_retries_total",
			Help: "Placement transactions retried after a conflict",
		}, []string{"reason"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "retail_order_placements_in_flight",
			Help: "Number of placements currently being processed",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "retail_order_transitions_total",
			Help: "Applied order status transitions",
		}, []string{"from", "to"}),
		historyEntries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "retail_order_history_entries_total",
			Help: "Total number of order history entries recorded",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "retail_outbox_enqueued_total",
			Help: "Total number of events written to the outbox",
		}),
		cacheRequests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "retail_order_cache_requests_total",
			Help: "Order cache lookups by result",
		}, []string{"result"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// PlacementStarted отмечает начало оформления и возвращает функцию завершения.
func (m *OrderMetrics) PlacementStarted() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.placementDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordPlacement учитывает результат оформления; reason пуст для успешных.
func (m *OrderMetrics) RecordPlacement(result, reason string) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(result, reason).Inc()
}

// RecordRetry учитывает повтор транзакции оформления.
func (m *OrderMetrics) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.placementRetries.WithLabelValues(reason).Inc()
}

// RecordTransition учитывает смену статуса и запись в истории.
func (m *OrderMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	if from != to {
		m.transitions.WithLabelValues(from, to).Inc()
	}
	m.historyEntries.Inc()
}

// RecordOutboxEnqueued учитывает события, записанные в outbox.
func (m *OrderMetrics) RecordOutboxEnqueued(n int) {
	if m == nil {
		return
	}
	m.outboxEnqueued.Add(float64(n))
}

// RecordCache учитывает попадание или промах кэша.
func (m *OrderMetrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}
