package actor

import (
	"context"
	"fmt"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

// StoreMemory implements §4.5 POST /memory: validate body (validated by the
// caller's lexicon pass upstream), store encrypted, return the new id.
func (a *Actor) StoreMemory(ctx context.Context, collection string, body map[string]any, public bool) (string, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.Store(ctx, a.did, collection, body, memory.StoreOptions{Public: public})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetMemory implements §4.5 GET /memory?id=: load + decrypt.
func (a *Actor) GetMemory(ctx context.Context, collection, rkey string) (map[string]any, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.Load(ctx, a.did, collection, rkey)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// ListMemory implements §4.5 GET /memory?collection=&limit=.
func (a *Actor) ListMemory(ctx context.Context, collection string, limit int) ([]map[string]any, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.List(ctx, a.did, collection)
	})
	if err != nil {
		return nil, err
	}
	entries := v.([]map[string]any)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// UpdateMemory implements §4.5 PUT /memory?id=: re-encrypt + update.
func (a *Actor) UpdateMemory(ctx context.Context, collection, rkey string, body map[string]any) error {
	_, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, a.memSvc.Update(ctx, a.did, collection, rkey, body)
	})
	return err
}

// DeleteMemory implements §4.5 DELETE /memory?id=: soft delete.
func (a *Actor) DeleteMemory(ctx context.Context, collection, rkey string) error {
	_, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, a.memSvc.Delete(ctx, a.did, collection, rkey)
	})
	return err
}

// Share implements §4.5 POST /share: seal the record's DEK to
// recipientDID's public key and upsert a shared-record row.
func (a *Actor) Share(ctx context.Context, collection, rkey, recipientDID string) error {
	_, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, a.memSvc.Share(ctx, a.did, collection, rkey, recipientDID)
	})
	return err
}

// GetShared implements §4.5 GET /shared?id=: load a record shared *to*
// this agent by its owner.
func (a *Actor) GetShared(ctx context.Context, ownerDID, collection, rkey string) (map[string]any, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.LoadShared(ctx, ownerDID, collection, rkey, a.did)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// ListShared implements §4.5 GET /shared: every record shared *to* this
// agent by any owner, decrypted.
func (a *Actor) ListShared(ctx context.Context) ([]map[string]any, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.ListShared(ctx, a.did)
	})
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

// InboxCollection is the collection inbound comms messages are stored
// under (§4.5's /inbox, §6's agent.comms.message).
const InboxCollection = "agent.comms.message"

// PostInbox implements §4.5 POST /inbox: reject (403) if the record's
// recipient field doesn't match this agent's DID, otherwise store as a
// private record.
func (a *Actor) PostInbox(ctx context.Context, body map[string]any) (string, error) {
	recipient, _ := body["recipient"].(string)
	if recipient != a.did {
		return "", fmt.Errorf("%w: inbox recipient %q does not match agent", apierr.ErrForbidden, recipient)
	}
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.Store(ctx, a.did, InboxCollection, body, memory.StoreOptions{})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ListInbox implements §4.5 GET /inbox: list records of $type ==
// agent.comms.message.
func (a *Actor) ListInbox(ctx context.Context) ([]map[string]any, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.memSvc.List(ctx, a.did, InboxCollection)
	})
	if err != nil {
		return nil, err
	}
	return v.([]map[string]any), nil
}

// GetConfig implements §4.5 GET /config.
func (a *Actor) GetConfig(ctx context.Context) (model.AgentConfig, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.cfgSvc.Get(ctx, a.did)
	})
	if err != nil {
		return model.AgentConfig{}, err
	}
	return v.(model.AgentConfig), nil
}

// PatchConfig implements §4.5 PATCH /config: deep-merge, clamp
// loopIntervalMs.
func (a *Actor) PatchConfig(ctx context.Context, patch model.AgentConfig) (model.AgentConfig, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.cfgSvc.Merge(ctx, a.did, patch)
	})
	if err != nil {
		return model.AgentConfig{}, err
	}
	return v.(model.AgentConfig), nil
}

// LoopSnapshot is the response shape of the loop/* routes.
type LoopSnapshot struct {
	LoopRunning bool
	LoopCount   int
	NextAlarm   *int64
}

func toSnapshot(ls model.LoopState) LoopSnapshot {
	return LoopSnapshot{LoopRunning: ls.LoopRunning, LoopCount: ls.LoopCount, NextAlarm: ls.NextAlarmAt}
}

// LoopStart implements §4.5 POST /loop/start.
func (a *Actor) LoopStart(ctx context.Context) (LoopSnapshot, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		cfg, err := a.cfgSvc.Get(ctx, a.did)
		if err != nil {
			return nil, err
		}
		return a.sched.Start(ctx, a.did, cfg.LoopIntervalMs)
	})
	if err != nil {
		return LoopSnapshot{}, err
	}
	return toSnapshot(v.(model.LoopState)), nil
}

// LoopStop implements §4.5 POST /loop/stop.
func (a *Actor) LoopStop(ctx context.Context) (LoopSnapshot, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Stop(ctx, a.did)
	})
	if err != nil {
		return LoopSnapshot{}, err
	}
	return toSnapshot(v.(model.LoopState)), nil
}

// LoopStatus implements §4.5 GET /loop/status.
func (a *Actor) LoopStatus(ctx context.Context) (LoopSnapshot, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.sched.Status(ctx, a.did)
	})
	if err != nil {
		return LoopSnapshot{}, err
	}
	return toSnapshot(v.(model.LoopState)), nil
}
