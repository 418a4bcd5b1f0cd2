package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Dialect identifies the SQL backend behind a Store.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// PoolConfig holds connection pool limits for server databases.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements InventoryRepository and CredentialRepository on top of
// database/sql. The same queries serve SQLite and MySQL.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database file and applies
// migrations.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// _time_format=sqlite stores times as sortable text.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	s, err := newStore(ctx, db, DialectSQLite, logger)
	if err != nil {
		return nil, err
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	logger.Info("sqlite store ready", slog.String("path", dbPath))
	return s, nil
}

// OpenMySQL connects to MySQL, verifies the connection and applies migrations.
func OpenMySQL(ctx context.Context, dsn string, pool PoolConfig, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := newStore(ctx, db, DialectMySQL, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("mysql store ready")
	return s, nil
}

func newStore(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) (*Store, error) {
	if err := runMigrations(ctx, db, dialect, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

// runMigrations applies all pending schema migrations for the dialect.
func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("repository: creating migration sub-filesystem: %w", err)
	}

	gooseDialect := goose.DialectSQLite3
	if dialect == DialectMySQL {
		gooseDialect = goose.DialectMySQL
	}

	provider, err := goose.NewProvider(gooseDialect, db, subFS)
	if err != nil {
		return fmt.Errorf("repository: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("repository: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Dialect returns the backend kind.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Ensure Store implements both repositories
var (
	_ InventoryRepository  = (*Store)(nil)
	_ CredentialRepository = (*Store)(nil)
)
