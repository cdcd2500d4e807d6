// Package sqlite provides a lease queue backed by a local SQLite database,
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/plaenen/liststate/pkg/sqlite/migrate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "lease_queue_schema_migrations"

// dbConfig holds internal configuration for Open.
type dbConfig struct {
	dsn          string
	maxOpenConns int
	walMode      bool
	busyTimeout  time.Duration
	autoMigrate  bool
}

func defaultDBConfig() dbConfig {
	return dbConfig{
		dsn:          "liststate.db",
		maxOpenConns: 1,
		walMode:      true,
		busyTimeout:  5 * time.Second,
		autoMigrate:  true,
	}
}

// DBOption configures Open.
type DBOption func(*dbConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) DBOption {
	return func(c *dbConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses a private in-memory database.
func WithMemoryDatabase() DBOption {
	return func(c *dbConfig) {
		c.dsn = ":memory:"
	}
}

// WithMaxOpenConns sets the connection pool size. Ignored for :memory:.
func WithMaxOpenConns(n int) DBOption {
	return func(c *dbConfig) {
		c.maxOpenConns = n
	}
}

// WithWALMode toggles write-ahead logging. Not available for :memory:.
func WithWALMode(enabled bool) DBOption {
	return func(c *dbConfig) {
		c.walMode = enabled
	}
}

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) DBOption {
	return func(c *dbConfig) {
		c.busyTimeout = d
	}
}

// WithAutoMigrate toggles running schema migrations on Open.
func WithAutoMigrate(enabled bool) DBOption {
	return func(c *dbConfig) {
		c.autoMigrate = enabled
	}
}

// Open opens the database and applies the lease queue schema.
//
//	db, err := sqlite.Open(ctx, sqlite.WithDSN("/var/lib/liststate/state.db"))
//	q, err := sqlite.NewLeaseQueue(db, "o365-list-state")
func Open(ctx context.Context, opts ...DBOption) (*sql.DB, error) {
	config := defaultDBConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", driverDSN(config))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: gets its own database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		config.walMode = false
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if config.walMode {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

// driverDSN adds per-connection pragmas to file databases. Transactions
// start IMMEDIATE so a dequeue takes the write lock before it reads the slot.
func driverDSN(config dbConfig) string {
	if config.dsn == ":memory:" || strings.HasPrefix(config.dsn, "file:") {
		return config.dsn
	}

	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.busyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")

	sep := "?"
	if strings.Contains(config.dsn, "?") {
		sep = "&"
	}
	return config.dsn + sep + params.Encode()
}

// Migrate applies pending lease queue migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	m := migrate.New(db, migrationsTable)
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("load lease queue migrations: %w", err)
	}
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("run lease queue migrations: %w", err)
	}
	return nil
}
