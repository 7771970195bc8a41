package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the durable task store. A Store returned by New talks to the
// database directly; the one handed to a WithTx callback is bound to the
// transaction.
type Store struct {
	log    *slog.Logger
	db     *sqlx.DB
	q      sqlx.ExtContext
	driver string
}

// New opens the database for driver ("sqlite" or "pgx") and applies the schema.
func New(log *slog.Logger, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "_time_format") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_time_format=sqlite"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; concurrent callers queue on the pool.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{log: log, db: db, q: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; otherwise, including on context expiry, nothing is written.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	bound := &Store{log: s.log, db: s.db, q: tx, driver: s.driver}

	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	tsType := "DATETIME"
	if s.driver == DriverPostgres {
		tsType = "TIMESTAMPTZ"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS tasks (
		id             TEXT PRIMARY KEY,
		owner_id       TEXT NOT NULL,
		title          TEXT NOT NULL,
		title_key      TEXT NOT NULL,
		start_time     %[1]s,
		end_time       %[1]s,
		source         TEXT NOT NULL,
		confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
		time_inferred  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     %[1]s NOT NULL,
		updated_at     %[1]s NOT NULL,
		version        BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_owner_title ON tasks (owner_id, title_key);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner_start ON tasks (owner_id, start_time);

	CREATE TABLE IF NOT EXISTS sync_state (
		task_id            TEXT PRIMARY KEY,
		owner_id           TEXT NOT NULL,
		external_event_id  TEXT,
		pushed_version     BIGINT NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'pending',
		last_error         TEXT NOT NULL DEFAULT '',
		attempts           INTEGER NOT NULL DEFAULT 0,
		updated_at         %[1]s NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_owner_event ON sync_state (owner_id, external_event_id);

	CREATE TABLE IF NOT EXISTS task_events (
		id          TEXT PRIMARY KEY,
		task_id     TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		version     BIGINT NOT NULL,
		op          TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		at          %[1]s NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events (task_id, version);

	CREATE TABLE IF NOT EXISTS user_tokens (
		owner_id       TEXT PRIMARY KEY,
		access_token   TEXT NOT NULL DEFAULT '',
		refresh_token  TEXT NOT NULL DEFAULT '',
		token_type     TEXT NOT NULL DEFAULT '',
		expiry         %[1]s,
		updated_at     %[1]s NOT NULL
	);
	`, tsType)

	s.log.Debug("running store migrations", "driver", s.driver)
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return s.q.Rebind(query)
}

// now is truncated so values survive a round trip through either driver.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
