package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/health"
	"github.com/vladislavdragonenkov/retail-orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/retail-orders/internal/storage/postgres"
)

// runtimeDependencies собирает порты хранилища, выбранного драйвером.
type runtimeDependencies struct {
	tx          domain.Transactor
	orders      domain.OrderReader
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	pinger      health.Pinger
	close       func()
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		if cfg.SeedDemoCatalog {
			seedDemoCatalog(store, time.Now().UTC())
			logger.Info("memory store seeded with demo catalog")
		}
		return &runtimeDependencies{
			tx:          store,
			orders:      store.Orders(),
			outbox:      store.Outbox(),
			idempotency: store.Idempotency(),
			pinger:      store,
			close:       func() {},
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{
			MaxConns:  cfg.PostgresMaxConns,
			TxTimeout: cfg.TxTimeout,
		})
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return &runtimeDependencies{
			tx:          store,
			orders:      store.Orders(),
			outbox:      store.Outbox(),
			idempotency: store.Idempotency(),
			pinger:      store,
			close:       store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// seedDemoCatalog заводит товары и ваучеры для локального запуска и нагрузочного теста.
func seedDemoCatalog(store *memory.Store, now time.Time) {
	store.PutProduct("sku-kettle", "Electric kettle", 100)
	store.PutProduct("sku-toaster", "Toaster", 50)
	store.PutProduct("sku-limited", "Limited edition mug", 10)

	store.PutVoucher(domain.Voucher{
		Code:            "WELCOME10",
		DiscountPercent: 10,
		ExpiresAt:       now.AddDate(1, 0, 0),
		UsageLimit:      1000,
		PerUserLimit:    1,
		Status:          domain.VoucherStatusActive,
	})
	store.PutVoucher(domain.Voucher{
		Code:            "LAST5",
		DiscountPercent: 50,
		ExpiresAt:       now.AddDate(0, 1, 0),
		UsageLimit:      5,
		Status:          domain.VoucherStatusActive,
	})
}
