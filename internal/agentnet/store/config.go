package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/model"
)

// GetConfig returns the stored AgentConfig for did. The bool return is
// false (with a zero AgentConfig) when no config row exists yet — not an
// error, since a freshly created agent has no config row until its first
// PATCH/POST, per §4.5's "defaults apply when absent" behavior.
func (s *SQLiteStore) GetConfig(ctx context.Context, did string) (model.AgentConfig, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM configs WHERE did = ?", did,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AgentConfig{}, false, nil
	}
	if err != nil {
		return model.AgentConfig{}, false, fmt.Errorf("store: get config %q: %w", did, err)
	}
	var cfg model.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.AgentConfig{}, false, fmt.Errorf("store: decode config %q: %w", did, err)
	}
	return cfg, true, nil
}

// SetConfig upserts the whole config blob for did.
func (s *SQLiteStore) SetConfig(ctx context.Context, did string, cfg model.AgentConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: encode config %q: %w", did, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO configs (did, config_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at  = excluded.updated_at
	`, did, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: set config %q: %w", did, err)
	}
	return nil
}

// GetSession returns the rolling conversation window for did. Absent is not
// an error — a new agent starts with an empty session.
func (s *SQLiteStore) GetSession(ctx context.Context, did string) (model.Session, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_json FROM sessions WHERE did = ?", did,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("store: get session %q: %w", did, err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return model.Session{}, false, fmt.Errorf("store: decode session %q: %w", did, err)
	}
	return sess, true, nil
}

// SetSession upserts the whole session blob for did.
func (s *SQLiteStore) SetSession(ctx context.Context, did string, sess model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encode session %q: %w", did, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (did, session_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			session_json = excluded.session_json,
			updated_at   = excluded.updated_at
	`, did, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: set session %q: %w", did, err)
	}
	return nil
}

// GetLoopState returns the scheduler state for did. Absent means the loop
// has never been started.
func (s *SQLiteStore) GetLoopState(ctx context.Context, did string) (model.LoopState, bool, error) {
	var ls model.LoopState
	var nextAlarm sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT loop_running, loop_count, next_alarm_at FROM loop_state WHERE did = ?", did,
	).Scan(&ls.LoopRunning, &ls.LoopCount, &nextAlarm)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LoopState{}, false, nil
	}
	if err != nil {
		return model.LoopState{}, false, fmt.Errorf("store: get loop state %q: %w", did, err)
	}
	if nextAlarm.Valid {
		ls.NextAlarmAt = &nextAlarm.Int64
	}
	return ls, true, nil
}

// SetLoopState upserts the scheduler state for did.
func (s *SQLiteStore) SetLoopState(ctx context.Context, did string, ls model.LoopState) error {
	var nextAlarm sql.NullInt64
	if ls.NextAlarmAt != nil {
		nextAlarm = sql.NullInt64{Int64: *ls.NextAlarmAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loop_state (did, loop_running, loop_count, next_alarm_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			loop_running  = excluded.loop_running,
			loop_count    = excluded.loop_count,
			next_alarm_at = excluded.next_alarm_at,
			updated_at    = excluded.updated_at
	`, did, ls.LoopRunning, ls.LoopCount, nextAlarm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: set loop state %q: %w", did, err)
	}
	return nil
}
