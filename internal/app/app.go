package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/cache/rediscache"
	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/health"
	"github.com/vladislavdragonenkov/retail-orders/internal/httpapi"
	"github.com/vladislavdragonenkov/retail-orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/placement"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/query"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/sequence"
	"github.com/vladislavdragonenkov/retail-orders/internal/service/voucher"
	"github.com/vladislavdragonenkov/retail-orders/internal/version"
)

// Run поднимает REST API, сервер метрик и фоновые воркеры и блокируется до
// отмены ctx. При отмене возвращает ctx.Err() после аккуратной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	registerer := prometheus.DefaultRegisterer
	orderMetrics := metrics.NewOrderMetricsWithRegisterer(registerer)
	outboxMetrics := metrics.NewOutboxMetrics(registerer)
	idempotencyMetrics := metrics.NewIdempotencyMetrics(registerer)

	healthHandler := health.NewHandler(version.Version())
	healthHandler.Register("storage", deps.pinger)

	orderCache, redisClient := initOrderCache(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		healthHandler.RegisterOptional("redis", health.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	retry := placement.DefaultRetryConfig()
	retry.MaxAttempts = cfg.PlacementMaxAttempts
	retry.InitialDelay = cfg.PlacementRetryDelay

	orchestrator := placement.NewOrchestrator(
		deps.tx,
		voucher.NewValidator(logger.WithField("layer", "voucher")),
		sequence.NewGenerator(cfg.OrderNumberPrefix, location),
		retry,
		orderMetrics,
		logger.WithField("layer", "placement"),
	)
	lifecycleSvc := lifecycle.NewService(deps.tx, orderCache, orderMetrics, logger.WithField("layer", "lifecycle"))
	querySvc := query.NewService(deps.orders, orderCache, orderMetrics, logger.WithField("layer", "query"))
	guard := idempotency.NewGuard(deps.idempotency, cfg.IdempotencyTTL, idempotencyMetrics, logger.WithField("layer", "idempotency"))

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(
		httpapi.NewHandler(orchestrator, lifecycleSvc, querySvc, guard, logger.WithField("layer", "http")),
		logger.WithField("layer", "http"),
	)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		logger.Warn("outbox events stay pending until kafka becomes available")
	}
	consumer, err := initPaymentConsumer(cfg, lifecycleSvc, producer, logger)
	if err == nil && consumer != nil {
		if err := consumer.Start(workersCtx); err != nil {
			logger.WithError(err).Warn("failed to start payment reports consumer")
		}
	}
	defer closeKafka(consumer, producer, logger)

	if producer != nil {
		worker := outbox.NewWorker(
			deps.outbox,
			kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(outboxMetrics),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.DLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(workersCtx)
		}()
	}

	cleanup := idempotency.NewCleanupWorker(
		deps.idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithMetrics(idempotencyMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanup.Run(workersCtx)
	}()

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return err
	}
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(version.Fields()).Infof("http api listening on %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping http api")
		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initOrderCache подключает Redis-кэш карточек заказов. Кэш необязателен:
// при ошибке подключения сервис продолжает работать без него.
func initOrderCache(ctx context.Context, cfg Config, logger *log.Entry) (domain.OrderCache, *redis.Client) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client, err := rediscache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, continuing without order cache")
		return nil, nil
	}
	logger.WithField("addr", cfg.RedisAddr).Info("order cache connected")
	return rediscache.NewOrderCache(client, cfg.CacheTTL), client
}

// newMetricsMux собирает служебные эндпоинты: метрики и пробы.
func newMetricsMux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startMetricsServer запускает служебный HTTP-сервер на отдельном адресе.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, 5*time.Second, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
