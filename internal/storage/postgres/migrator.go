package postgres

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

const (
	migrationsGlob    = "sql/migrations/*.sql"
	migrationLockKey  = int64(20261014)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	appliedMigrationsSQL = `SELECT version FROM schema_migrations ORDER BY version`
	insertMigrationSQL   = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`
	deleteMigrationSQL   = `DELETE FROM schema_migrations WHERE version = $1`
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus возвращает текущую версию и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.pool == nil {
		return 0, 0, errStoreNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.pool.Exec(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	if err := s.pool.QueryRow(queryCtx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).Scan(&version, &count); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}

	return version, count, nil
}

type migrationStep struct {
	migration
	direction migrationDirection
}

func (st migrationStep) script() string {
	if st.direction == migrationDown {
		return st.DownSQL
	}
	return st.UpSQL
}

// record возвращает запрос и аргументы, фиксирующие шаг в schema_migrations.
func (st migrationStep) record() (string, []any) {
	if st.direction == migrationDown {
		return deleteMigrationSQL, []any{st.Version}
	}
	return insertMigrationSQL, []any{st.Version, st.Name}
}

// planUp выбирает неприменённые миграции по возрастанию версии.
// steps<=0 означает все.
func planUp(migrations []migration, applied []int64, steps int) []migrationStep {
	var plan []migrationStep
	for _, m := range migrations {
		if slices.Contains(applied, m.Version) {
			continue
		}
		plan = append(plan, migrationStep{migration: m, direction: migrationUp})
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown откатывает steps последних применённых версий, начиная с новейшей.
func planDown(migrations []migration, applied []int64, steps int) ([]migrationStep, error) {
	plan := make([]migrationStep, 0, steps)
	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		idx := slices.IndexFunc(migrations, func(m migration) bool { return m.Version == applied[i] })
		if idx < 0 {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
		}
		plan = append(plan, migrationStep{migration: migrations[idx], direction: migrationDown})
	}
	return plan, nil
}

// migrate выполняет весь прогон в одной транзакции под pg_advisory_xact_lock:
// параллельные экземпляры ждут друг друга, упавший шаг откатывает весь прогон.
func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) (err error) {
	if s == nil || s.pool == nil {
		return errStoreNotInitialized
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err = tx.Exec(lockCtx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if _, err = tx.Exec(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	rows, err := tx.Query(ctx, appliedMigrationsSQL)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("scan applied migrations: %w", err)
	}

	var plan []migrationStep
	switch direction {
	case migrationUp:
		plan = planUp(migrations, applied, steps)
	case migrationDown:
		plan, err = planDown(migrations, applied, steps)
	default:
		err = fmt.Errorf("unsupported migration direction: %s", direction)
	}
	if err != nil {
		return err
	}

	for _, step := range plan {
		if _, err = tx.Exec(ctx, step.script()); err != nil {
			return fmt.Errorf("execute %s migration %d_%s: %w", step.direction, step.Version, step.Name, err)
		}
		query, args := step.record()
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("record %s migration %d_%s: %w", step.direction, step.Version, step.Name, err)
		}
		s.logger.WithFields(log.Fields{"version": step.Version, "name": step.Name, "direction": step.direction}).Debug("migration applied")
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	s.logger.WithFields(log.Fields{"direction": direction, "applied": len(plan)}).Info("migrations finished")
	return nil
}

// parseMigrationFile разбирает имя вида 0001_init.up.sql.
func parseMigrationFile(base string) (int64, string, migrationDirection, error) {
	matches := migrationFilePattern.FindStringSubmatch(base)
	if matches == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, matches[2], migrationDirection(matches[3]), nil
}

// loadMigrationsFromFS собирает пары up/down и сортирует их по версии.
// Каждая версия обязана иметь оба файла с одинаковым именем.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration, len(files)/2)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationFile(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == migrationDown {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
