// Package config implements the deep-merge PATCH semantics for AgentConfig
// (§3, §4.5, P6): PATCH /config goes through Merge so that every field the
// caller omits survives untouched. POST /agents does not merge: it fills the
// caller's initial config with defaults and stores it through Set.
package config

import (
	"context"
	"fmt"

	"dario.cat/mergo"

	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// Service reads and writes per-agent AgentConfig, applying the deep-merge on
// Merge and the loopIntervalMs clamp on every write.
type Service struct {
	store store.Store
}

// New builds a Service over st.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Get returns did's config, defaulted (§3) if none has ever been written.
func (s *Service) Get(ctx context.Context, did string) (model.AgentConfig, error) {
	cfg, ok, err := s.store.GetConfig(ctx, did)
	if err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: get: %w", err)
	}
	if !ok {
		return model.AgentConfig{}.Defaulted(), nil
	}
	return cfg, nil
}

// Merge deep-merges patch onto did's current config (unspecified fields of
// patch are preserved from the base per P6), clamps loopIntervalMs, and
// persists the result. Returns the merged config.
func (s *Service) Merge(ctx context.Context, did string, patch model.AgentConfig) (model.AgentConfig, error) {
	base, err := s.Get(ctx, did)
	if err != nil {
		return model.AgentConfig{}, err
	}

	merged := base
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: merge: %w", err)
	}
	merged.ClampLoopInterval()

	if err := s.store.SetConfig(ctx, did, merged); err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: persist: %w", err)
	}
	return merged, nil
}

// Set replaces did's config wholesale, with the same clamp as Merge. Agent
// creation uses it; Set itself fills no defaults, so that caller applies
// AgentConfig.Defaulted() to the initial fields first.
func (s *Service) Set(ctx context.Context, did string, cfg model.AgentConfig) (model.AgentConfig, error) {
	cfg.ClampLoopInterval()
	if err := s.store.SetConfig(ctx, did, cfg); err != nil {
		return model.AgentConfig{}, fmt.Errorf("config: set: %w", err)
	}
	return cfg, nil
}
