package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/app"
	"github.com/vladislavdragonenkov/retail-orders/internal/version"
)

const (
	envHTTPAddr        = "RETAIL_HTTP_ADDR"
	envMetricsAddr     = "RETAIL_METRICS_ADDR"
	envShutdownTimeout = "RETAIL_SHUTDOWN_TIMEOUT"
	envLogLevel        = "RETAIL_LOG_LEVEL"
	envLogFormat       = "RETAIL_LOG_FORMAT"

	envStorageDriver       = "RETAIL_STORAGE_DRIVER"
	envPostgresDSN         = "RETAIL_POSTGRES_DSN"
	envPostgresAutoMigrate = "RETAIL_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns    = "RETAIL_POSTGRES_MAX_CONNS"
	envTxTimeout           = "RETAIL_TX_TIMEOUT"
	envSeedDemoCatalog     = "RETAIL_SEED_DEMO_CATALOG"

	envOrderNumberPrefix    = "RETAIL_ORDER_NUMBER_PREFIX"
	envOrderNumberTimezone  = "RETAIL_ORDER_NUMBER_TIMEZONE"
	envPlacementMaxAttempts = "RETAIL_PLACEMENT_MAX_ATTEMPTS"
	envPlacementRetryDelay  = "RETAIL_PLACEMENT_RETRY_DELAY"

	envRedisAddr = "RETAIL_REDIS_ADDR"
	envCacheTTL  = "RETAIL_CACHE_TTL"

	envKafkaBrokers        = "RETAIL_KAFKA_BROKERS"
	envKafkaClientID       = "RETAIL_KAFKA_CLIENT_ID"
	envKafkaGroupID        = "RETAIL_KAFKA_GROUP_ID"
	envOrderEventsTopic    = "RETAIL_ORDER_EVENTS_TOPIC"
	envPaymentReportsTopic = "RETAIL_PAYMENT_REPORTS_TOPIC"
	envDLQTopic            = "RETAIL_DLQ_TOPIC"
	envConsumerMaxRetries  = "RETAIL_CONSUMER_MAX_RETRIES"
	envConsumerRetryDelay  = "RETAIL_CONSUMER_RETRY_DELAY"

	envOutboxPollInterval = "RETAIL_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "RETAIL_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "RETAIL_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "RETAIL_OUTBOX_RETRY_DELAY"

	envIdempotencyTTL              = "RETAIL_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "RETAIL_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "RETAIL_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}
	str := func(key string, target *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*target = strings.TrimSpace(raw)
		}
	}
	boolean := func(key string, target *bool) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	integer := func(key string, target *int, valid func(int) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	maxConns := int(cfg.PostgresMaxConns)
	integer(envPostgresMaxConns, &maxConns, positive, "must be > 0")
	cfg.PostgresMaxConns = int32(maxConns)
	duration(envTxTimeout, &cfg.TxTimeout, nonNegativeDuration, "must be >= 0")
	boolean(envSeedDemoCatalog, &cfg.SeedDemoCatalog)

	str(envOrderNumberPrefix, &cfg.OrderNumberPrefix)
	str(envOrderNumberTimezone, &cfg.OrderNumberTimezone)
	integer(envPlacementMaxAttempts, &cfg.PlacementMaxAttempts, positive, "must be > 0")
	duration(envPlacementRetryDelay, &cfg.PlacementRetryDelay, nonNegativeDuration, "must be >= 0")

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envCacheTTL, &cfg.CacheTTL, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaClientID, &cfg.KafkaClientID)
	str(envKafkaGroupID, &cfg.KafkaGroupID)
	str(envOrderEventsTopic, &cfg.OrderEventsTopic)
	str(envPaymentReportsTopic, &cfg.PaymentReportsTopic)
	str(envDLQTopic, &cfg.DLQTopic)
	integer(envConsumerMaxRetries, &cfg.ConsumerMaxRetries, nonNegative, "must be >= 0")
	duration(envConsumerRetryDelay, &cfg.ConsumerRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	// .env необязателен: в контейнере настройки приходят из окружения.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaBrokers != "",
	}).Info("starting retail order service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("order service exited with error")
	}

	log.Info("retail order service stopped")
}
