// Package sqlstore implements tracking.Store on database/sql. Two dialects
// are supported: postgres through pgx and sqlite through modernc.org/sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"asset-tracker-api/internal/tracking"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names accepted by Open
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Config selects and tunes the database
type Config struct {
	Driver string
	// DSN is the postgres connection string.
	DSN string
	// Path is the sqlite database file.
	Path     string
	MaxConns int32
}

// Store is a tracking.Store backed by *sql.DB
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
}

var _ tracking.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured database and verifies the connection
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case Postgres:
		return openPostgres(ctx, cfg)
	case SQLite:
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("sqlstore: unknown driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: stdlib.OpenDBFromPool(pool), pool: pool, dialect: postgresDialect{}}, nil
}

func openSQLite(ctx context.Context, cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db, dialect: sqliteDialect{}}, nil
}

// DB exposes the underlying handle, for tooling and tests
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the active dialect name
func (s *Store) Dialect() string {
	return s.dialect.name()
}

// Repos returns repositories bound to the connection pool
func (s *Store) Repos() tracking.Repos {
	return s.repos(s.db)
}

func (s *Store) repos(q querier) tracking.Repos {
	c := conn{q: q, d: s.dialect}
	return tracking.Repos{
		Tags:      tagRepo{c},
		Assets:    assetRepo{c},
		Movements: movementRepo{c},
		Reads:     readRepo{c},
		Portals:   portalRepo{c},
	}
}

// RunInTx runs fn in one database transaction
func (s *Store) RunInTx(ctx context.Context, fn func(r tracking.Repos) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(s.repos(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle and the pgx pool
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// conn pairs a querier with the dialect rules for building statements
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// dialect hides the differences between the two engines. Statements are
// written with ? placeholders.
type dialect interface {
	name() string
	rebind(query string) string
	// timeArg converts a timestamp into a bind argument
	timeArg(t time.Time) any
	// limitOffset renders the pagination suffix; limit <= 0 means unbounded
	limitOffset(limit, offset int) string
}

type postgresDialect struct{}

func (postgresDialect) name() string { return Postgres }

func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (postgresDialect) timeArg(t time.Time) any { return t.UTC() }

func (postgresDialect) limitOffset(limit, offset int) string {
	var s string
	if limit > 0 {
		s += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return SQLite }

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) timeArg(t time.Time) any { return formatTime(t) }

func (sqliteDialect) limitOffset(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = -1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
