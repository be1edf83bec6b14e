package tools_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
	"github.com/agentnet/kernel/internal/agentnet/tools"
)

type testEnv struct {
	store  *store.SQLiteStore
	idSvc  *identity.Service
	memSvc *memory.Service
	cfgSvc *config.Service
	lex    *lexicon.Validator
	did    string
}

func newTestEnv(t *testing.T, agentName string) *testEnv {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "agentnet-tools-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	idSvc := identity.New(st, key)
	memSvc := memory.New(st, idSvc)
	cfgSvc := config.New(st)
	lex, err := lexicon.New()
	if err != nil {
		t.Fatalf("lexicon.New: %v", err)
	}

	ident, err := idSvc.Mint(context.Background(), agentName)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := cfgSvc.Set(context.Background(), ident.DID, model.AgentConfig{Name: agentName}); err != nil {
		t.Fatalf("Set config: %v", err)
	}

	return &testEnv{store: st, idSvc: idSvc, memSvc: memSvc, cfgSvc: cfgSvc, lex: lex, did: ident.DID}
}

func TestHost_RememberAndRecall(t *testing.T) {
	env := newTestEnv(t, "weatherbot")
	host := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    "weatherbot",
		EnabledTools: []string{"remember", "recall"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
	})

	res, err := host.Execute(context.Background(), "remember", map[string]any{
		"$type": "agent.memory.note",
		"body": map[string]any{
			"summary":   "met the mayor",
			"createdAt": "2026-07-31T00:00:00Z",
		},
	})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok || m["id"] == "" {
		t.Fatalf("unexpected remember result: %+v", res)
	}

	recallRes, err := host.Execute(context.Background(), "recall", map[string]any{
		"collection": "agent.memory.note",
		"query":      "mayor",
	})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	rm, ok := recallRes.(map[string]any)
	if !ok {
		t.Fatalf("unexpected recall result type: %T", recallRes)
	}
	entries, _ := rm["entries"].([]map[string]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 matching entry, got %d", len(entries))
	}
}

func TestHost_RememberRejectsInvalidType(t *testing.T) {
	env := newTestEnv(t, "weatherbot2")
	host := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    "weatherbot2",
		EnabledTools: []string{"remember"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
	})

	_, err := host.Execute(context.Background(), "remember", map[string]any{
		"$type": "agent.memory.note",
		"body":  map[string]any{"text": "missing summary"},
	})
	if err == nil {
		t.Fatal("expected validation error for record missing required summary")
	}
}

func TestHost_UpdateProfileTruncatesAndMerges(t *testing.T) {
	env := newTestEnv(t, "profilebot")
	host := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    "profilebot",
		EnabledTools: []string{"update_profile"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
	})

	longMood := make([]byte, 100)
	for i := range longMood {
		longMood[i] = 'x'
	}

	res, err := host.Execute(context.Background(), "update_profile", map[string]any{
		"status": "busy",
		"mood":   string(longMood),
	})
	if err != nil {
		t.Fatalf("update_profile: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", res)
	}
	profile, ok := m["profile"].(*model.Profile)
	if !ok || profile == nil {
		t.Fatalf("unexpected profile: %+v", m["profile"])
	}
	if profile.Status != "busy" {
		t.Errorf("expected status %q, got %q", "busy", profile.Status)
	}
	if len(profile.Mood) != model.ProfileMoodMaxLen {
		t.Errorf("expected mood truncated to %d chars, got %d", model.ProfileMoodMaxLen, len(profile.Mood))
	}
}

func TestHost_GMNotExposedWithoutReservedName(t *testing.T) {
	env := newTestEnv(t, "notgrimlock")
	called := false
	host := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    "notgrimlock",
		EnabledTools: []string{"gm"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
		GM: func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return nil, nil
		},
	})

	if _, err := host.Execute(context.Background(), "gm", map[string]any{}); err == nil {
		t.Fatal("expected gm to be unavailable for a non-reserved agent name")
	}
	if called {
		t.Fatal("gm handler should never have been invoked")
	}
}

func TestHost_GMAvailableForReservedName(t *testing.T) {
	env := newTestEnv(t, tools.ReservedOperatorName)
	called := false
	host := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    tools.ReservedOperatorName,
		EnabledTools: []string{"gm"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
		GM: func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return "ok", nil
		},
	})

	res, err := host.Execute(context.Background(), "gm", map[string]any{})
	if err != nil {
		t.Fatalf("gm: %v", err)
	}
	if !called {
		t.Fatal("expected gm handler to be invoked")
	}
	if res != "ok" {
		t.Errorf("unexpected gm result: %v", res)
	}
}

func TestHost_ExecuteTimesOut(t *testing.T) {
	env := newTestEnv(t, tools.ReservedOperatorName)
	gatedHost := tools.NewHost(tools.HostParams{
		DID:          env.did,
		AgentName:    tools.ReservedOperatorName,
		EnabledTools: []string{"gm"},
		Memory:       env.memSvc,
		Config:       env.cfgSvc,
		Lexicon:      env.lex,
		Timeout:      10 * time.Millisecond,
		GM: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too slow", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	if _, err := gatedHost.Execute(context.Background(), "gm", map[string]any{}); err == nil {
		t.Fatal("expected timeout error")
	}
}
