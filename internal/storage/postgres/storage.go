// Package postgres implements the StorageAdapter capability (spec §6) on
// top of Postgres, for rule/fact snapshot and audit persistence. Grounded
// on internal/database/types.go's Connect/RunMigrations and
// rule_repository.go's NamedExecContext + optimistic-locking version
// column pattern.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/config"
)

// Connect establishes a database connection, pooled per cfg.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// RunMigrations applies every pending migration under cfg.MigrationsPath.
func RunMigrations(cfg config.DatabaseConfig) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Metadata carries the bookkeeping the StorageAdapter contract (spec §6)
// attaches to every persisted entry.
type Metadata struct {
	PersistedAt   time.Time `json:"persistedAt" db:"persisted_at"`
	ServerID      string    `json:"serverId" db:"server_id"`
	SchemaVersion int       `json:"schemaVersion" db:"schema_version"`
}

// Entry is the { state, metadata } envelope save/load exchange.
type Entry struct {
	State    json.RawMessage `json:"state"`
	Metadata Metadata        `json:"metadata"`
}

type row struct {
	Key           string    `db:"key"`
	State         []byte    `db:"state"`
	PersistedAt   time.Time `db:"persisted_at"`
	ServerID      string    `db:"server_id"`
	SchemaVersion int       `db:"schema_version"`
	Version       int       `db:"version"`
}

// Adapter implements the core's StorageAdapter capability against a single
// Postgres table, keyed by an opaque string key shared across rule
// snapshots, fact snapshots, and audit entries (distinguished by key
// prefix, e.g. "rule:", "fact:", "audit:").
type Adapter struct {
	db       *sqlx.DB
	logger   *slog.Logger
	serverID string
}

// New constructs an Adapter. serverID is stamped into every entry's
// metadata so multi-instance deployments can tell which process last
// wrote a key.
func New(db *sqlx.DB, logger *slog.Logger, serverID string) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{db: db, logger: logger, serverID: serverID}
}

const schemaVersion = 1

// Save persists state under key, overwriting any prior value and bumping
// its optimistic-locking version column.
func (a *Adapter) Save(ctx context.Context, key string, state json.RawMessage) error {
	now := time.Now()
	query := `
		INSERT INTO storage_entries (key, state, persisted_at, server_id, schema_version, version)
		VALUES (:key, :state, :persisted_at, :server_id, :schema_version, 1)
		ON CONFLICT (key) DO UPDATE SET
			state = EXCLUDED.state,
			persisted_at = EXCLUDED.persisted_at,
			server_id = EXCLUDED.server_id,
			schema_version = EXCLUDED.schema_version,
			version = storage_entries.version + 1`

	_, err := a.db.NamedExecContext(ctx, query, row{
		Key: key, State: state, PersistedAt: now,
		ServerID: a.serverID, SchemaVersion: schemaVersion,
	})
	if err != nil {
		a.logger.Error("storage save failed", "key", key, "error", err)
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

// Load returns the entry stored under key, or (nil, nil) if absent.
func (a *Adapter) Load(ctx context.Context, key string) (*Entry, error) {
	var r row
	err := a.db.GetContext(ctx, &r, `SELECT key, state, persisted_at, server_id, schema_version, version FROM storage_entries WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	return &Entry{
		State: r.State,
		Metadata: Metadata{
			PersistedAt:   r.PersistedAt,
			ServerID:      r.ServerID,
			SchemaVersion: r.SchemaVersion,
		},
	}, nil
}

// Delete removes key, reporting whether it existed.
func (a *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM storage_entries WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	return n > 0, nil
}

// Exists reports whether key is currently stored.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM storage_entries WHERE key = $1)`, key)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return exists, nil
}

// ListKeys returns every key with the given prefix, in lexical order.
func (a *Adapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := a.db.SelectContext(ctx, &keys, `SELECT key FROM storage_entries WHERE key LIKE $1 ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	return keys, nil
}

// RequireConfigured returns a ServiceUnavailableError when adapter is nil,
// for callers (the audit endpoints, versioned snapshot restore) that
// treat persistence as an optional subsystem per spec.md §6/§7.
func RequireConfigured(adapter *Adapter) error {
	if adapter == nil {
		return apperr.NewServiceUnavailableError("storage", errors.New("no storage adapter configured"))
	}
	return nil
}
