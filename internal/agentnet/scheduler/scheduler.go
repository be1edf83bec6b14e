// Package scheduler implements the durable alarm-driven think loop (§4.6,
// C6): a per-agent Idle/Armed state machine that fires a tick on an
// interval, swallowing tick errors so the chain of alarms is never broken.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/store"
)

// TickFunc runs one agent iteration (prompt with the internal system
// message and tools). Its error is recorded as a loop.error event and
// never aborts the loop.
type TickFunc func(ctx context.Context, did string) error

// EventSink receives scheduler observability events: loop.started,
// loop.sleep, loop.error (§4.6).
type EventSink interface {
	Emit(did, event string, fields map[string]any)
}

// slogSink is the default EventSink, used when none is supplied.
type slogSink struct{ logger *slog.Logger }

func (s slogSink) Emit(did, event string, fields map[string]any) {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "did", did)
	for k, v := range fields {
		args = append(args, k, v)
	}
	s.logger.Info(event, args...)
}

// Scheduler owns one timer per armed agent. It is safe for concurrent use
// across different DIDs; callers are still responsible for the
// single-writer-per-agent invariant when invoking Start/Stop/snapshot
// concurrently for the *same* DID (the actor mailbox provides that).
type Scheduler struct {
	store  store.Store
	tick   TickFunc
	events EventSink

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a Scheduler. If events is nil, a slog-backed sink is used.
func New(st store.Store, tick TickFunc, events EventSink) *Scheduler {
	if events == nil {
		events = slogSink{logger: slog.Default()}
	}
	return &Scheduler{
		store:  st,
		tick:   tick,
		events: events,
		timers: make(map[string]*time.Timer),
	}
}

// Start transitions did from Idle to Armed: persists loopRunning=true with
// a fresh nextAlarmAt, and schedules the first fire. Starting an
// already-armed loop reschedules it from now.
func (s *Scheduler) Start(ctx context.Context, did string, intervalMs int) (model.LoopState, error) {
	if intervalMs < model.MinLoopIntervalMs {
		intervalMs = model.MinLoopIntervalMs
	}

	ls, ok, err := s.store.GetLoopState(ctx, did)
	if err != nil {
		return model.LoopState{}, err
	}
	if !ok {
		ls = model.LoopState{}
	}

	next := time.Now().UTC().Add(time.Duration(intervalMs) * time.Millisecond).UnixMilli()
	ls.LoopRunning = true
	ls.NextAlarmAt = &next
	if err := s.store.SetLoopState(ctx, did, ls); err != nil {
		return model.LoopState{}, err
	}

	s.arm(did, intervalMs)
	s.events.Emit(did, "loop.started", map[string]any{"intervalMs": intervalMs, "nextAlarmAt": next})
	return ls, nil
}

// Stop transitions did from Armed to Idle: cancels the scheduled timer and
// persists loopRunning=false. A tick already in flight runs to completion
// (§4.6's cancellation note) and will not rearm once it sees loopRunning
// false in the store.
func (s *Scheduler) Stop(ctx context.Context, did string) (model.LoopState, error) {
	s.mu.Lock()
	if t, ok := s.timers[did]; ok {
		t.Stop()
		delete(s.timers, did)
	}
	s.mu.Unlock()

	ls, ok, err := s.store.GetLoopState(ctx, did)
	if err != nil {
		return model.LoopState{}, err
	}
	if !ok {
		ls = model.LoopState{}
	}
	ls.LoopRunning = false
	ls.NextAlarmAt = nil
	if err := s.store.SetLoopState(ctx, did, ls); err != nil {
		return model.LoopState{}, err
	}
	return ls, nil
}

// Status returns the durable loop state for did, defaulted to Idle if no
// state has ever been written.
func (s *Scheduler) Status(ctx context.Context, did string) (model.LoopState, error) {
	ls, ok, err := s.store.GetLoopState(ctx, did)
	if err != nil {
		return model.LoopState{}, err
	}
	if !ok {
		return model.LoopState{}, nil
	}
	return ls, nil
}

// arm schedules a one-shot timer that invokes fire after intervalMs.
func (s *Scheduler) arm(did string, intervalMs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[did]; ok {
		t.Stop()
	}
	s.timers[did] = time.AfterFunc(time.Duration(intervalMs)*time.Millisecond, func() {
		s.fire(did, intervalMs)
	})
}

// fire executes one tick: increments loopCount, runs the tick function,
// and unconditionally reschedules while loopRunning stays true — a tick
// error never leaves the loop unarmed (P5).
func (s *Scheduler) fire(did string, intervalMs int) {
	ctx := context.Background()

	ls, ok, err := s.store.GetLoopState(ctx, did)
	if err != nil || !ok || !ls.LoopRunning {
		return
	}

	ls.LoopCount++
	if err := s.store.SetLoopState(ctx, did, ls); err != nil {
		s.events.Emit(did, "loop.error", map[string]any{"phase": "prompt", "error": err.Error()})
		return
	}

	if err := s.tick(ctx, did); err != nil {
		s.events.Emit(did, "loop.error", map[string]any{"phase": "prompt", "error": err.Error()})
	}

	ls, ok, err = s.store.GetLoopState(ctx, did)
	if err != nil || !ok || !ls.LoopRunning {
		return
	}
	next := time.Now().UTC().Add(time.Duration(intervalMs) * time.Millisecond).UnixMilli()
	ls.NextAlarmAt = &next
	if err := s.store.SetLoopState(ctx, did, ls); err != nil {
		s.events.Emit(did, "loop.error", map[string]any{"phase": "reschedule", "error": err.Error()})
		return
	}

	s.arm(did, intervalMs)
	s.events.Emit(did, "loop.sleep", map[string]any{"intervalMs": intervalMs, "nextAlarmAt": next})
}
