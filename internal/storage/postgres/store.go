package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultTxTimeout       = 10 * time.Second
	defaultMaxConns        = 25
	defaultMinConns        = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// querier объединяет методы pgxpool.Pool и pgx.Tx, которыми пользуются репозитории.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pool реализуется *pgxpool.Pool и pgxmock.PgxPoolIface.
type pool interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Options задаёт параметры пула соединений.
type Options struct {
	MaxConns  int32
	MinConns  int32
	TxTimeout time.Duration
}

// Store оборачивает пул соединений к PostgreSQL.
type Store struct {
	pool      pool
	txTimeout time.Duration
	logger    *log.Entry
}

// Open открывает пул соединений к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MinConns = defaultMinConns
	if opts.MinConns > 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.MaxConnLifetime = defaultConnMaxLifetime
	cfg.MaxConnIdleTime = defaultConnMaxIdleTime

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newStore(p, opts.TxTimeout), nil
}

func newStore(p pool, txTimeout time.Duration) *Store {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &Store{
		pool:      p,
		txTimeout: txTimeout,
		logger:    log.WithField("component", "postgres-store"),
	}
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.pool.Ping(pingCtx)
}

// Close закрывает пул соединений.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// WithinTx выполняет fn в одной транзакции READ COMMITTED.
// Ваучер блокируется через SELECT ... FOR UPDATE, остатки списываются условным UPDATE,
// поэтому более строгий уровень изоляции не нужен.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.TxScope) error) (err error) {
	if s == nil || s.pool == nil {
		return errStoreNotInitialized
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyError(fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if err = fn(txCtx, &txScope{q: tx}); err != nil {
		return classifyError(err)
	}
	if err = tx.Commit(txCtx); err != nil {
		return classifyError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Orders возвращает read-only доступ к заказам вне транзакции.
func (s *Store) Orders() domain.OrderReader {
	return &orderRepository{q: s.pool}
}

// Available читает текущий остаток товара вне транзакции. Менять остатки
// можно только через TxScope.Stock() внутри оформления заказа.
func (s *Store) Available(ctx context.Context, productID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return (&stockLedger{q: s.pool}).Available(ctx, productID)
}

// Outbox возвращает outbox-репозиторий для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{q: s.pool}
}

// Idempotency возвращает хранилище ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return &idempotencyRepository{q: s.pool}
}

type txScope struct {
	q querier
}

func (t *txScope) Stock() domain.StockLedger          { return &stockLedger{q: t.q} }
func (t *txScope) Vouchers() domain.VoucherRepository { return &voucherRepository{q: t.q} }
func (t *txScope) Orders() domain.OrderRepository     { return &orderRepository{q: t.q} }
func (t *txScope) History() domain.HistoryRepository  { return &historyRepository{q: t.q} }
func (t *txScope) Outbox() domain.OutboxRepository    { return &outboxRepository{q: t.q} }

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// classifyError переводит ошибки драйвера в доменные: конфликты транзакций
// можно повторить, истёкший таймаут считается сбоем инфраструктуры.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", domain.ErrTxConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	return err
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.TxScope    = (*txScope)(nil)
	_ pool              = (*pgxpool.Pool)(nil)
)
