package relay_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/relay"
	"github.com/agentnet/kernel/internal/agentnet/scheduler"
	"github.com/agentnet/kernel/internal/agentnet/store"
	"github.com/agentnet/kernel/internal/agentnet/tools"
)

type noopSink struct{}

func (noopSink) Emit(string, string, map[string]any) {}

type echoAgent struct{}

func (echoAgent) Prompt(ctx context.Context, input string, options map[string]any) (map[string]any, []actor.Message, error) {
	return map[string]any{"echo": input}, nil, nil
}

type echoFactory struct{}

func (echoFactory) New(ctx context.Context, initial actor.InitialState) (actor.Agent, error) {
	return echoAgent{}, nil
}

type testKernel struct {
	store  *store.SQLiteStore
	idSvc  *identity.Service
	memSvc *memory.Service
	cfgSvc *config.Service
	lex    *lexicon.Validator
	sched  *scheduler.Scheduler
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "agentnet-relay-*.db")
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
		key[i] = byte(i * 5)
	}
	idSvc := identity.New(st, key)
	memSvc := memory.New(st, idSvc)
	cfgSvc := config.New(st)
	lex, err := lexicon.New()
	if err != nil {
		t.Fatalf("lexicon.New: %v", err)
	}
	sched := scheduler.New(st, func(ctx context.Context, did string) error { return nil }, noopSink{})

	return &testKernel{store: st, idSvc: idSvc, memSvc: memSvc, cfgSvc: cfgSvc, lex: lex, sched: sched}
}

func (k *testKernel) spawn(did, name string) *actor.Actor {
	toolsFor := func(enabled []string) *tools.Host {
		return tools.NewHost(tools.HostParams{
			DID: did, AgentName: name, EnabledTools: enabled,
			Memory: k.memSvc, Config: k.cfgSvc, Lexicon: k.lex,
		})
	}
	return actor.New(actor.Params{
		DID: did, Name: name, Store: k.store, Identity: k.idSvc, Memory: k.memSvc,
		Config: k.cfgSvc, Scheduler: k.sched, ToolsFor: toolsFor, Factory: echoFactory{}, Events: noopSink{},
	})
}

func (k *testKernel) mint(t *testing.T, name string) string {
	t.Helper()
	ident, err := k.idSvc.Mint(context.Background(), name)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := k.cfgSvc.Set(context.Background(), ident.DID, model.AgentConfig{Name: name}); err != nil {
		t.Fatalf("Set config: %v", err)
	}
	return ident.DID
}

func TestResolve_SpawnsOncePerDID(t *testing.T) {
	k := newTestKernel(t)
	did := k.mint(t, "weatherbot")
	r := relay.New(k.store, nil, k.spawn)
	t.Cleanup(r.Shutdown)

	a1, err := r.Resolve(context.Background(), "weatherbot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a2, err := r.Resolve(context.Background(), "weatherbot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same Actor instance across repeated resolves")
	}
	if a1.DID() != did {
		t.Fatalf("expected did %s, got %s", did, a1.DID())
	}
}

func TestResolve_UnknownNameNotFound(t *testing.T) {
	k := newTestKernel(t)
	r := relay.New(k.store, nil, k.spawn)
	t.Cleanup(r.Shutdown)

	if _, err := r.Resolve(context.Background(), "ghost"); err == nil {
		t.Fatal("expected not-found error for unknown agent name")
	}
}

func TestForget_SpawnsFreshActorOnNextResolve(t *testing.T) {
	k := newTestKernel(t)
	k.mint(t, "weatherbot")
	r := relay.New(k.store, nil, k.spawn)
	t.Cleanup(r.Shutdown)

	a1, err := r.Resolve(context.Background(), "weatherbot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Forget(a1.DID())

	a2, err := r.Resolve(context.Background(), "weatherbot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a1 == a2 {
		t.Fatal("expected a fresh Actor after Forget")
	}
}

func TestList_ReturnsAllRegisteredAgents(t *testing.T) {
	k := newTestKernel(t)
	k.mint(t, "weatherbot")
	k.mint(t, "newsbot")
	r := relay.New(k.store, nil, k.spawn)
	t.Cleanup(r.Shutdown)

	rows, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 registered agents, got %d", len(rows))
	}
}

func TestBroadcast_DoesNotPanicWithNoSubscribers(t *testing.T) {
	k := newTestKernel(t)
	k.mint(t, "weatherbot")
	r := relay.New(k.store, nil, k.spawn)
	t.Cleanup(r.Shutdown)

	if _, err := r.Resolve(context.Background(), "weatherbot"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Broadcast(map[string]any{"type": "test.event"})
}

func TestShutdown_ClosesAllActors(t *testing.T) {
	k := newTestKernel(t)
	k.mint(t, "weatherbot")
	r := relay.New(k.store, nil, k.spawn)

	a, err := r.Resolve(context.Background(), "weatherbot")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Shutdown()

	// Give the mailbox goroutine a moment to observe the close signal.
	time.Sleep(10 * time.Millisecond)
	if _, err := a.Identity(context.Background()); err == nil {
		t.Fatal("expected error submitting to a closed actor after Shutdown")
	}
}
