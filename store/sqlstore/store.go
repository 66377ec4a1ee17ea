/*
Package sqlstore provides the SQL-backed implementation of the clubs and users
stores.

PURPOSE:
  Persists clubs, roles, memberships, events, recurring event templates and
  users. One code path serves both SQLite (default, single file) and
  PostgreSQL (DSN starting with postgres://).

SCHEMA:
  Managed by golang-migrate. Migrations are embedded per dialect under
  migrations/sqlite and migrations/postgres and applied by New.
  Timestamps are stored as RFC3339 UTC text so ordering by the column is
  chronological on both engines.

OCCURRENCE KEY:
  A unique index on (name, club_id, start_at, end_at,
  COALESCE(recurring_event_id, 0)) enforces event identity. Upserts look the
  key up inside the caller's transaction and merge with clubs.OccurrenceMerge.

CONCURRENCY:
  SQLite runs with a single open connection. Code in this package never
  issues a query while a result set is still open.

SEE ALSO:
  - clubs/store.go: Interfaces implemented here
  - clubs/store/memory.go: In-memory equivalent used by unit tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/ufcsu/clubportal/clubs"
	"github.com/ufcsu/clubportal/users"
)

//go:embed migrations
var migrations embed.FS

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// Store implements clubs.Store, clubs.TxStore and users.Store.
type Store struct {
	*conn
	db  *sql.DB
	log logrus.FieldLogger
}

var (
	_ clubs.Store   = (*Store)(nil)
	_ clubs.TxStore = (*Store)(nil)
	_ users.Store   = (*Store)(nil)
)

// New opens the database named by dsn and applies pending migrations.
// A dsn starting with postgres:// or postgresql:// selects PostgreSQL,
// anything else is a SQLite path (":memory:" included).
func New(dsn string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	d, driver, source := parseDSN(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectSQLite {
		// :memory: databases exist per connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		conn: &conn{q: db, dialect: d, now: func() time.Time { return time.Now().UTC() }},
		db:   db,
		log:  log.WithField("dialect", d),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func parseDSN(dsn string) (dialect, string, string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dialectPostgres, "postgres", dsn
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return dialectSQLite, "sqlite3", path + sep + "_foreign_keys=on&_journal_mode=WAL"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock overrides the timestamp source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// =============================================================================
// MIGRATIONS
// =============================================================================

func (s *Store) migrate(ctx context.Context) error {
	src, err := iofs.New(migrations, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case dialectPostgres:
		// The postgres driver pins a connection; release it once done.
		c, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire connection: %w", err)
		}
		defer c.Close()
		driver, err = postgres.WithConnection(ctx, c, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("failed to init migrations: %w", err)
		}
	default:
		driver, err = sqlite3.WithInstance(s.db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("failed to init migrations: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	m.Log = migrateLogger{s.log}

	// m.Close would close the shared *sql.DB, so it is not called.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		s.log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Debug("schema migrated")
	}
	return nil
}

type migrateLogger struct {
	log logrus.FieldLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }

// =============================================================================
// TRANSACTIONAL STORE (clubs.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(clubs.OccurrenceStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, dialect: s.dialect, now: s.now}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CONN - Query helpers shared by Store and transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds every query. Store embeds one bound to *sql.DB; WithTx hands
// fn one bound to *sql.Tx.
type conn struct {
	q       querier
	dialect dialect
	now     func() time.Time
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (c *conn) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := c.queryRow(ctx, query+" RETURNING id", args...).Scan(&id)
	return id, err
}

// execOne runs a statement that must touch exactly one row; notFound is
// returned otherwise.
func (c *conn) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := c.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t.UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
