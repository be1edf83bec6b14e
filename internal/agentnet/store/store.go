// Package store persists the kernel's durable state: agent identities,
// configs, sessions, loop state, and encrypted records. The sqlite backend
// below is the default (embedded migrations, single-connection WAL mode,
// exactly as the teacher's internal/ruriko/store package runs it); a
// postgres backend in the postgres subpackage demonstrates the same Store interface
// against a second driver and migration runner, per §4.2's "no SQL dialect
// mandated".
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentnet/kernel/internal/agentnet/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the persistence contract every backend (sqlite, postgres)
// satisfies. Every method takes a DID-scoped key except the registry and
// share lookups, which are global.
type Store interface {
	Close() error

	CreateAgent(ctx context.Context, did, name string, identityBlob []byte, createdAt time.Time) error
	GetAgentIdentity(ctx context.Context, did string) ([]byte, error)
	ResolveName(ctx context.Context, name string) (string, error)
	ListAgents(ctx context.Context) ([]model.AgentRegistryRow, error)
	DeleteAgent(ctx context.Context, did string) error

	GetConfig(ctx context.Context, did string) (model.AgentConfig, bool, error)
	SetConfig(ctx context.Context, did string, cfg model.AgentConfig) error

	GetSession(ctx context.Context, did string) (model.Session, bool, error)
	SetSession(ctx context.Context, did string, sess model.Session) error

	GetLoopState(ctx context.Context, did string) (model.LoopState, bool, error)
	SetLoopState(ctx context.Context, did string, ls model.LoopState) error

	PutRecord(ctx context.Context, rec model.Record) error
	GetRecord(ctx context.Context, did, collection, rkey string) (model.Record, error)
	ListRecords(ctx context.Context, did, collection string) ([]model.Record, error)
	DeleteRecord(ctx context.Context, did, collection, rkey string) error

	ShareRecord(ctx context.Context, recordID, recipientDID string, encryptedDek []byte, sharedAt time.Time) error
	ListSharedWith(ctx context.Context, recipientDID string) ([]model.SharedRecord, error)
}

// ErrNotFound is returned by single-row lookups (Get*) when the row is
// absent. Callers translate this to apierr.ErrNotFound at the package
// boundary rather than depending on apierr from here, keeping store free of
// upward dependencies.
var ErrNotFound = fmt.Errorf("store: not found")

// SQLiteStore wraps a single-connection sqlite database, migrated on New.
type SQLiteStore struct {
	db *sql.DB
}

// New opens dbPath (creating it if absent), applies pragmas, and runs any
// pending embedded migration, exactly as the teacher's store.New does.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// sqlite is single-writer; one shared connection serializes callers
	// through database/sql instead of contending for the write lock across
	// multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the highest applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// DB exposes the underlying connection for callers that need a raw
// transaction; no package in this module calls it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[int]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if prev, ok := seen[version]; ok {
			return fmt.Errorf("duplicate migration version %04d: %q and %q", version, prev, e.Name())
		}
		seen[version] = e.Name()
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", e.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Info("applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}
	return nil
}
