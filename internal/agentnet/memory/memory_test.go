package memory_test

import (
	"context"
	"os"
	"testing"

	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

func newTestEnv(t *testing.T) (*store.SQLiteStore, *identity.Service, *memory.Service) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "agentnet-memory-*.db")
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
		key[i] = byte(i * 3)
	}
	idSvc := identity.New(st, key)
	memSvc := memory.New(st, idSvc)
	return st, idSvc, memSvc
}

func TestStoreAndLoad_Private(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	ident, err := idSvc.Mint(ctx, "owner")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	body := map[string]any{"summary": "met with ally", "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, ident.DID, "agent.memory.note", body, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty record id")
	}

	rk := id[len(ident.DID)+len("/agent.memory.note/"):]
	loaded, err := memSvc.Load(ctx, ident.DID, "agent.memory.note", rk)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded["summary"] != "met with ally" {
		t.Errorf("unexpected body: %+v", loaded)
	}
}

func TestStoreAndLoad_Public(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	ident, err := idSvc.Mint(ctx, "pubowner")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	body := map[string]any{"sender": ident.DID, "recipient": "did:agentnet:other", "content": map[string]any{"kind": "text"}, "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, ident.DID, "agent.comms.message", body, memory.StoreOptions{Public: true})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rk := id[len(ident.DID)+len("/agent.comms.message/"):]

	loaded, err := memSvc.Load(ctx, ident.DID, "agent.comms.message", rk)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded["sender"] != ident.DID {
		t.Errorf("unexpected body: %+v", loaded)
	}
}

func TestUpdate_ReEncryptsWithNewDek(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	ident, err := idSvc.Mint(ctx, "updater")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	body := map[string]any{"summary": "v1", "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, ident.DID, "agent.memory.note", body, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rk := id[len(ident.DID)+len("/agent.memory.note/"):]

	if err := memSvc.Update(ctx, ident.DID, "agent.memory.note", rk, map[string]any{"summary": "v2", "createdAt": "2026-07-31T00:00:00Z"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := memSvc.Load(ctx, ident.DID, "agent.memory.note", rk)
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	if loaded["summary"] != "v2" {
		t.Errorf("expected updated summary, got %+v", loaded)
	}
}

func TestDelete_ThenLoadNotFound(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	ident, err := idSvc.Mint(ctx, "deleter")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	body := map[string]any{"summary": "temp", "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, ident.DID, "agent.memory.note", body, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rk := id[len(ident.DID)+len("/agent.memory.note/"):]

	if err := memSvc.Delete(ctx, ident.DID, "agent.memory.note", rk); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := memSvc.Load(ctx, ident.DID, "agent.memory.note", rk); err == nil {
		t.Fatal("expected error loading deleted record")
	}
}

func TestShareAndLoadShared(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	owner, err := idSvc.Mint(ctx, "sharer")
	if err != nil {
		t.Fatalf("Mint owner: %v", err)
	}
	viewer, err := idSvc.Mint(ctx, "viewer")
	if err != nil {
		t.Fatalf("Mint viewer: %v", err)
	}

	body := map[string]any{"summary": "shared note", "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, owner.DID, "agent.memory.note", body, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rk := id[len(owner.DID)+len("/agent.memory.note/"):]

	if err := memSvc.Share(ctx, owner.DID, "agent.memory.note", rk, viewer.DID); err != nil {
		t.Fatalf("Share: %v", err)
	}

	loaded, err := memSvc.LoadShared(ctx, owner.DID, "agent.memory.note", rk, viewer.DID)
	if err != nil {
		t.Fatalf("LoadShared: %v", err)
	}
	if loaded["summary"] != "shared note" {
		t.Errorf("unexpected shared body: %+v", loaded)
	}
}

func TestListShared_ReturnsEntriesAcrossOwners(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	ownerA, err := idSvc.Mint(ctx, "sharerA")
	if err != nil {
		t.Fatalf("Mint ownerA: %v", err)
	}
	ownerB, err := idSvc.Mint(ctx, "sharerB")
	if err != nil {
		t.Fatalf("Mint ownerB: %v", err)
	}
	viewer, err := idSvc.Mint(ctx, "multiviewer")
	if err != nil {
		t.Fatalf("Mint viewer: %v", err)
	}

	idA, err := memSvc.Store(ctx, ownerA.DID, "agent.memory.note", map[string]any{"summary": "from A", "createdAt": "2026-07-31T00:00:00Z"}, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store A: %v", err)
	}
	rkA := idA[len(ownerA.DID)+len("/agent.memory.note/"):]
	if err := memSvc.Share(ctx, ownerA.DID, "agent.memory.note", rkA, viewer.DID); err != nil {
		t.Fatalf("Share A: %v", err)
	}

	idB, err := memSvc.Store(ctx, ownerB.DID, "agent.memory.note", map[string]any{"summary": "from B", "createdAt": "2026-07-31T00:00:00Z"}, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store B: %v", err)
	}
	rkB := idB[len(ownerB.DID)+len("/agent.memory.note/"):]
	if err := memSvc.Share(ctx, ownerB.DID, "agent.memory.note", rkB, viewer.DID); err != nil {
		t.Fatalf("Share B: %v", err)
	}

	entries, err := memSvc.ListShared(ctx, viewer.DID)
	if err != nil {
		t.Fatalf("ListShared: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 shared entries, got %d", len(entries))
	}
}

func TestLoadShared_NotSharedFails(t *testing.T) {
	_, idSvc, memSvc := newTestEnv(t)
	ctx := context.Background()

	owner, err := idSvc.Mint(ctx, "sharer2")
	if err != nil {
		t.Fatalf("Mint owner: %v", err)
	}
	viewer, err := idSvc.Mint(ctx, "notshared")
	if err != nil {
		t.Fatalf("Mint viewer: %v", err)
	}

	body := map[string]any{"summary": "private note", "createdAt": "2026-07-31T00:00:00Z"}
	id, err := memSvc.Store(ctx, owner.DID, "agent.memory.note", body, memory.StoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rk := id[len(owner.DID)+len("/agent.memory.note/"):]

	if _, err := memSvc.LoadShared(ctx, owner.DID, "agent.memory.note", rk, viewer.DID); err == nil {
		t.Fatal("expected error loading a record never shared with viewer")
	}
}
