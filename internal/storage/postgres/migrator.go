package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var bookingMigrations embed.FS

// bookingMigrationLock — ключ advisory lock для миграций lessonbook.
const bookingMigrationLock = int64(0x1e55_0b00)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`

// ErrMigrationDrift — применённая миграция отличается от встроенного файла.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

// migrationFileName разбирает имена вида 0002_outbox_timeline.up.sql.
var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

// schemaStep — одна версия схемы с обоими направлениями.
type schemaStep struct {
	version  int64
	name     string
	up       string
	down     string
	checksum string
}

func (s schemaStep) label() string {
	return fmt.Sprintf("%04d_%s", s.version, s.name)
}

// appliedStep — строка schema_migrations.
type appliedStep struct {
	version  int64
	checksum string
}

// MigrateUp применяет ещё не применённые миграции по возрастанию версий; steps=0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep) error {
		applied, err := readApplied(ctx, conn)
		if err != nil {
			return err
		}
		if err := checkDrift(plan, applied); err != nil {
			return err
		}

		done := 0
		for _, step := range plan {
			if _, ok := applied[step.version]; ok {
				continue
			}
			if steps > 0 && done == steps {
				break
			}
			if err := runStep(ctx, conn, step, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 — одна.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, plan []schemaStep) error {
		applied, err := readApplied(ctx, conn)
		if err != nil {
			return err
		}

		byVersion := make(map[int64]schemaStep, len(plan))
		for _, step := range plan {
			byVersion[step.version] = step
		}

		versions := make([]int64, 0, len(applied))
		for version := range applied {
			versions = append(versions, version)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, version := range versions {
			step, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("rollback migration %d: no embedded file for this version", version)
			}
			if err := runStep(ctx, conn, step, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает последнюю применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return 0, 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, count, nil
}

// withMigrationLock выполняет fn на выделенном соединении под advisory lock.
func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn, plan []schemaStep) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	plan, err := planMigrations(bookingMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, bookingMigrationLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, bookingMigrationLock)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return fn(conn, plan)
}

// runStep выполняет одно направление миграции и запись в schema_migrations одной транзакцией.
func runStep(ctx context.Context, conn *sql.Conn, step schemaStep, up bool) (err error) {
	direction, body := "down", step.down
	if up {
		direction, body = "up", step.up
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s %s: begin: %w", direction, step.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migrate %s %s: %w", direction, step.label(), err)
	}

	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			step.version, step.name, step.checksum,
		)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, step.version)
	}
	if err != nil {
		return fmt.Errorf("migrate %s %s: record version: %w", direction, step.label(), err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s %s: commit: %w", direction, step.label(), err)
	}
	return nil
}

func readApplied(ctx context.Context, conn *sql.Conn) (map[int64]appliedStep, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]appliedStep)
	for rows.Next() {
		var step appliedStep
		if err := rows.Scan(&step.version, &step.checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[step.version] = step
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return applied, nil
}

// checkDrift сверяет контрольные суммы применённых миграций со встроенными файлами.
// Пустая сумма в таблице не проверяется.
func checkDrift(plan []schemaStep, applied map[int64]appliedStep) error {
	for _, step := range plan {
		got, ok := applied[step.version]
		if !ok || got.checksum == "" {
			continue
		}
		if got.checksum != step.checksum {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, step.label())
		}
	}
	return nil
}

// planMigrations читает пары up/down из fsys и упорядочивает их по версии.
func planMigrations(fsys fs.FS) ([]schemaStep, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files embedded")
	}

	steps := make(map[int64]*schemaStep, len(files)/2)
	for _, file := range files {
		base := path.Base(file)
		m := migrationFileName.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("migration %s: name must look like 0001_name.up.sql", base)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %s: version: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("migration %s: read: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s: empty file", base)
		}

		step, ok := steps[version]
		if !ok {
			step = &schemaStep{version: version, name: m[2]}
			steps[version] = step
		}
		if step.name != m[2] {
			return nil, fmt.Errorf("migration %d: conflicting names %q and %q", version, step.name, m[2])
		}

		target := &step.down
		if m[3] == "up" {
			target = &step.up
		}
		if *target != "" {
			return nil, fmt.Errorf("migration %s: duplicate %s file", step.label(), m[3])
		}
		*target = body
	}

	plan := make([]schemaStep, 0, len(steps))
	for _, step := range steps {
		if step.up == "" || step.down == "" {
			return nil, fmt.Errorf("migration %s: needs both up and down files", step.label())
		}
		sum := sha256.Sum256([]byte(step.up))
		step.checksum = hex.EncodeToString(sum[:])
		plan = append(plan, *step)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}
