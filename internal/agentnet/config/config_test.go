package config_test

import (
	"context"
	"os"
	"testing"

	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "agentnet-config-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGet_DefaultsWhenAbsent(t *testing.T) {
	st := newTestStore(t)
	svc := config.New(st)

	cfg, err := svc.Get(context.Background(), "did:agentnet:nosuchconfig")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.Model != model.DefaultModel {
		t.Errorf("Model = %q, want default %q", cfg.Model, model.DefaultModel)
	}
	if cfg.LoopIntervalMs != model.DefaultLoopIntervalMs {
		t.Errorf("LoopIntervalMs = %d, want default %d", cfg.LoopIntervalMs, model.DefaultLoopIntervalMs)
	}
}

func TestMerge_PreservesUnspecifiedFields(t *testing.T) {
	st := newTestStore(t)
	svc := config.New(st)
	ctx := context.Background()
	did := "did:agentnet:mergeme"

	base := model.AgentConfig{
		Name:           "weatherbot",
		Personality:    "cheerful",
		Model:          model.DefaultModel,
		FastModel:      model.DefaultFastModel,
		LoopIntervalMs: 30000,
		EnabledTools:   []string{"remember", "recall"},
	}
	if _, err := svc.Set(ctx, did, base); err != nil {
		t.Fatalf("Set: %v", err)
	}

	patch := model.AgentConfig{Personality: "grumpy"}
	merged, err := svc.Merge(ctx, did, patch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged.Personality != "grumpy" {
		t.Errorf("Personality = %q, want %q", merged.Personality, "grumpy")
	}
	if merged.Name != "weatherbot" {
		t.Errorf("Name should be preserved, got %q", merged.Name)
	}
	if merged.LoopIntervalMs != 30000 {
		t.Errorf("LoopIntervalMs should be preserved, got %d", merged.LoopIntervalMs)
	}
	if len(merged.EnabledTools) != 2 {
		t.Errorf("EnabledTools should be preserved, got %v", merged.EnabledTools)
	}
}

func TestMerge_ClampsLoopInterval(t *testing.T) {
	st := newTestStore(t)
	svc := config.New(st)
	ctx := context.Background()
	did := "did:agentnet:clampme"

	if _, err := svc.Set(ctx, did, model.AgentConfig{Name: "n", LoopIntervalMs: 30000}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	merged, err := svc.Merge(ctx, did, model.AgentConfig{LoopIntervalMs: 1000})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.LoopIntervalMs != model.MinLoopIntervalMs {
		t.Errorf("LoopIntervalMs = %d, want clamped to %d", merged.LoopIntervalMs, model.MinLoopIntervalMs)
	}
}

func TestMerge_ReplacesGoalsWhenProvided(t *testing.T) {
	st := newTestStore(t)
	svc := config.New(st)
	ctx := context.Background()
	did := "did:agentnet:goalsme"

	base := model.AgentConfig{
		Name: "n",
		Goals: []model.Goal{
			{ID: "g1", Description: "old goal", Priority: 1, Status: model.GoalPending},
		},
	}
	if _, err := svc.Set(ctx, did, base); err != nil {
		t.Fatalf("Set: %v", err)
	}

	patch := model.AgentConfig{
		Goals: []model.Goal{
			{ID: "g2", Description: "new goal", Priority: 2, Status: model.GoalActive},
		},
	}
	merged, err := svc.Merge(ctx, did, patch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Goals) != 1 || merged.Goals[0].ID != "g2" {
		t.Errorf("expected goals replaced with patch value, got %+v", merged.Goals)
	}
}

func TestMerge_ProfileFieldsMergeIndependently(t *testing.T) {
	st := newTestStore(t)
	svc := config.New(st)
	ctx := context.Background()
	did := "did:agentnet:profileme"

	base := model.AgentConfig{
		Name:    "n",
		Profile: &model.Profile{Status: "idle", Mood: "neutral"},
	}
	if _, err := svc.Set(ctx, did, base); err != nil {
		t.Fatalf("Set: %v", err)
	}

	patch := model.AgentConfig{Profile: &model.Profile{Status: "busy"}}
	merged, err := svc.Merge(ctx, did, patch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Profile == nil {
		t.Fatal("expected profile to survive merge")
	}
	if merged.Profile.Status != "busy" {
		t.Errorf("Profile.Status = %q, want %q", merged.Profile.Status, "busy")
	}
	if merged.Profile.Mood != "neutral" {
		t.Errorf("Profile.Mood should be preserved, got %q", merged.Profile.Mood)
	}
}
