package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int32
	TxTimeout           time.Duration
	// SeedDemoCatalog заполняет memory-хранилище демонстрационными товарами и ваучерами.
	SeedDemoCatalog bool

	OrderNumberPrefix    string
	OrderNumberTimezone  string
	PlacementMaxAttempts int
	PlacementRetryDelay  time.Duration

	RedisAddr string
	CacheTTL  time.Duration

	// Брокеры через запятую, пустое значение отключает Kafka.
	KafkaBrokers        string
	KafkaClientID       string
	KafkaGroupID        string
	OrderEventsTopic    string
	PaymentReportsTopic string
	DLQTopic            string
	ConsumerMaxRetries  int
	ConsumerRetryDelay  time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 10 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    20,
		TxTimeout:           5 * time.Second,

		OrderNumberPrefix:    "ORD",
		OrderNumberTimezone:  "UTC",
		PlacementMaxAttempts: 5,
		PlacementRetryDelay:  10 * time.Millisecond,

		CacheTTL: 5 * time.Minute,

		KafkaClientID:       "retail-orders",
		KafkaGroupID:        "retail-orders-payments",
		OrderEventsTopic:    "retail.order.events",
		PaymentReportsTopic: "retail.payment.reports",
		DLQTopic:            "retail.dlq",
		ConsumerMaxRetries:  3,
		ConsumerRetryDelay:  200 * time.Millisecond,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Location возвращает часовой пояс суток для нумерации заказов.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.OrderNumberTimezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.OrderNumberTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid order number timezone %q: %w", c.OrderNumberTimezone, err)
	}
	return loc, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if strings.TrimSpace(c.OrderNumberPrefix) == "" {
		errs = append(errs, errors.New("order number prefix is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.PlacementMaxAttempts <= 0 {
		errs = append(errs, errors.New("placement max attempts must be > 0"))
	}
	return errors.Join(errs...)
}
