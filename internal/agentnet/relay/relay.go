// Package relay implements the name→actor router and public-key directory
// (§4.7, C7): resolve an agent name to its live Actor, spawning one lazily
// on first access, and fan public broadcasts out to every attached
// websocket subscriber across every live actor.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// ActorFactory builds a fresh Actor for a resolved DID. Relay owns the
// resulting Actor's lifecycle (it is the only caller of Close).
type ActorFactory func(did, name string) *actor.Actor

// Relay is a stateless router over a live actor registry: it never holds
// durable state of its own, only an in-memory cache of already-spawned
// Actors (§4.7: "Stateless router: nameToActor(name) =
// actorByInstanceId(deterministicIdFromName(name))" — the deterministic id
// is the agent's DID, resolved once via the store and cached thereafter).
type Relay struct {
	store     store.Store
	directory *identity.DirectoryClient
	spawn     ActorFactory

	mu     sync.RWMutex
	actors map[string]*actor.Actor // keyed by DID
}

// New builds a Relay. directory may be nil if this kernel instance never
// needs to resolve peers on a remote gateway.
func New(st store.Store, directory *identity.DirectoryClient, spawn ActorFactory) *Relay {
	return &Relay{
		store:     st,
		directory: directory,
		spawn:     spawn,
		actors:    make(map[string]*actor.Actor),
	}
}

// Resolve routes by agent name, spawning the backing Actor on first access
// and reusing it for every subsequent call against the same agent.
func (r *Relay) Resolve(ctx context.Context, name string) (*actor.Actor, error) {
	did, err := r.store.ResolveName(ctx, name)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: agent %q", apierr.ErrNotFound, name)
		}
		return nil, fmt.Errorf("relay: resolve name: %w", err)
	}
	return r.ActorByDID(did, name), nil
}

// ActorByDID returns the live Actor for did, spawning it if this is the
// first call against that DID since process start.
func (r *Relay) ActorByDID(did, name string) *actor.Actor {
	r.mu.RLock()
	a, ok := r.actors[did]
	r.mu.RUnlock()
	if ok {
		return a
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[did]; ok {
		return a
	}
	a = r.spawn(did, name)
	r.actors[did] = a
	return a
}

// Forget drops and closes the live Actor for did, e.g. after agent
// deletion. A subsequent Resolve/ActorByDID call spawns a new one.
func (r *Relay) Forget(did string) {
	r.mu.Lock()
	a, ok := r.actors[did]
	if ok {
		delete(r.actors, did)
	}
	r.mu.Unlock()
	if ok {
		a.Close()
	}
}

// List returns the full agent registry (name, DID, createdAt), independent
// of which ones currently have a spawned Actor.
func (r *Relay) List(ctx context.Context) ([]model.AgentRegistryRow, error) {
	rows, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: list agents: %w", err)
	}
	return rows, nil
}

// Broadcast fans event out to every live actor's attached websocket
// sessions (§4.7: "Broadcasts ... may be fanned out to websocket
// subscribers"; §5 ordering guarantee (d): emission order preserved per
// tool call, no cross-tool ordering guaranteed).
func (r *Relay) Broadcast(event any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actors {
		a.Broadcast(event)
	}
}

// Shutdown closes every live actor, e.g. during graceful process exit.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	actors := make([]*actor.Actor, 0, len(r.actors))
	for did, a := range r.actors {
		actors = append(actors, a)
		delete(r.actors, did)
	}
	r.mu.Unlock()
	for _, a := range actors {
		a.Close()
	}
}
