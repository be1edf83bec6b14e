package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/model"
)

// CreateAgent inserts the registry row and identity blob for a freshly
// minted agent. name must be unique (§4.1 P1); the UNIQUE constraint on
// agents.name surfaces as a conflict error the identity package maps to
// apierr.ErrConflict.
func (s *SQLiteStore) CreateAgent(ctx context.Context, did, name string, identityBlob []byte, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (did, name, identity_blob, created_at)
		VALUES (?, ?, ?, ?)
	`, did, name, identityBlob, createdAt)
	if err != nil {
		return fmt.Errorf("store: create agent %q: %w", name, err)
	}
	return nil
}

// GetAgentIdentity returns the raw (still at-rest-wrapped) identity blob
// for did.
func (s *SQLiteStore) GetAgentIdentity(ctx context.Context, did string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT identity_blob FROM agents WHERE did = ?", did,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent identity %q: %w", did, err)
	}
	return blob, nil
}

// ResolveName looks up the DID registered under name.
func (s *SQLiteStore) ResolveName(ctx context.Context, name string) (string, error) {
	var did string
	err := s.db.QueryRowContext(ctx,
		"SELECT did FROM agents WHERE name = ?", name,
	).Scan(&did)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: resolve name %q: %w", name, err)
	}
	return did, nil
}

// ListAgents returns the full name->DID registry, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]model.AgentRegistryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, did, created_at FROM agents ORDER BY created_at ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var out []model.AgentRegistryRow
	for rows.Next() {
		var r model.AgentRegistryRow
		if err := rows.Scan(&r.Name, &r.DID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan agent row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate agents: %w", err)
	}
	return out, nil
}

// DeleteAgent removes the agent row; ON DELETE CASCADE takes its config,
// session, loop state, and records with it.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, did string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE did = ?", did)
	if err != nil {
		return fmt.Errorf("store: delete agent %q: %w", did, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
