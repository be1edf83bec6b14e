// Package actor implements the per-agent single-writer actor (§4.5, C5):
// one mailbox serializing every durable-state mutation against one agent,
// fed from HTTP requests, websocket messages, and scheduler alarm fires
// alike (§5: "processes HTTP requests, websocket messages, and alarm
// fires one at a time"). Grounded on the teacher's WebSocket connection
// handling in vanducng-goclaw's gateway.Server (the pack's only
// gorilla/websocket server), generalized from one gateway-wide Upgrader
// to one long-lived per-actor websocket session set.
package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/model"
	"github.com/agentnet/kernel/internal/agentnet/scheduler"
	"github.com/agentnet/kernel/internal/agentnet/store"
	"github.com/agentnet/kernel/internal/agentnet/telemetry"
	"github.com/agentnet/kernel/internal/agentnet/tools"
)

// PromptDeadline bounds one prompt turn (§5: "prompt has an
// implementation-defined deadline; on expiry the actor emits loop.error
// with phase:'prompt'").
const PromptDeadline = 60 * time.Second

type job struct {
	fn   func(ctx context.Context) (any, error)
	done chan jobResult
}

type jobResult struct {
	val any
	err error
}

// Actor owns one agent's identity, config, session, loop state, and
// websocket sessions. All methods funnel through a single mailbox
// goroutine so mutations against this agent are always applied in
// submission order (§5 ordering guarantee (a)).
type Actor struct {
	did  string
	name string

	store    store.Store
	idSvc    *identity.Service
	memSvc   *memory.Service
	cfgSvc   *config.Service
	sched    *scheduler.Scheduler
	toolsNew func(enabledTools []string) *tools.Host
	factory  AgentFactory
	events   telemetry.EventSink
	logger   *slog.Logger

	mailbox   chan job
	closed    chan struct{}
	closeOnce sync.Once

	wsMu   sync.Mutex
	wsConn map[*websocket.Conn]chan []byte
}

// Params wires an Actor's collaborators together.
type Params struct {
	DID       string
	Name      string
	Store     store.Store
	Identity  *identity.Service
	Memory    *memory.Service
	Config    *config.Service
	Scheduler *scheduler.Scheduler
	// ToolsFor builds the tool host for one prompt turn, scoped to the
	// agent's current enabledTools config.
	ToolsFor func(enabledTools []string) *tools.Host
	Factory  AgentFactory
	Events   telemetry.EventSink
	Logger   *slog.Logger
}

// New builds an Actor and starts its mailbox goroutine. Callers must call
// Close when the actor is being torn down (agent deletion or shutdown).
func New(p Params) *Actor {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := p.Events
	if events == nil {
		events = slogEventSink{logger: logger}
	}
	a := &Actor{
		did:      p.DID,
		name:     p.Name,
		store:    p.Store,
		idSvc:    p.Identity,
		memSvc:   p.Memory,
		cfgSvc:   p.Config,
		sched:    p.Scheduler,
		toolsNew: p.ToolsFor,
		factory:  p.Factory,
		events:   events,
		logger:   logger,
		mailbox:  make(chan job, 32),
		closed:   make(chan struct{}),
		wsConn:   make(map[*websocket.Conn]chan []byte),
	}
	go a.run()
	return a
}

// slogEventSink is the default telemetry.EventSink when Params.Events is
// nil, mirroring scheduler's own slogSink fallback.
type slogEventSink struct{ logger *slog.Logger }

func (s slogEventSink) Emit(did, event string, fields map[string]any) {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "did", did)
	for k, v := range fields {
		args = append(args, k, v)
	}
	s.logger.Info(event, args...)
}

// Close stops the mailbox goroutine and drops any websocket sessions.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.wsMu.Lock()
		for c := range a.wsConn {
			c.Close()
		}
		a.wsConn = make(map[*websocket.Conn]chan []byte)
		a.wsMu.Unlock()
	})
}

// Broadcast pushes an unsolicited JSON frame (e.g. a telemetry event) to
// every websocket session currently attached to this actor. Slow or gone
// readers are dropped rather than blocking the sender.
func (a *Actor) Broadcast(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		a.logger.Error("actor: marshal broadcast frame", "did", a.did, "error", err)
		return
	}
	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	for conn, send := range a.wsConn {
		select {
		case send <- b:
		default:
			a.logger.Warn("actor: dropping slow websocket reader", "did", a.did)
			delete(a.wsConn, conn)
			close(send)
		}
	}
}

func (a *Actor) run() {
	for {
		select {
		case <-a.closed:
			return
		case j := <-a.mailbox:
			val, err := j.fn(context.Background())
			j.done <- jobResult{val, err}
		}
	}
}

// submit enqueues fn and blocks until it runs and returns, or ctx expires
// or the actor is closed first. This is the single point every exported
// Actor method funnels through, so two callers never interleave mutations
// against this agent.
func (a *Actor) submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	j := job{fn: fn, done: make(chan jobResult, 1)}
	select {
	case <-a.closed:
		return nil, fmt.Errorf("actor: %s closed", a.did)
	default:
	}
	select {
	case a.mailbox <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.closed:
		return nil, fmt.Errorf("actor: %s closed", a.did)
	}
	select {
	case r := <-j.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.closed:
		return nil, fmt.Errorf("actor: %s closed", a.did)
	}
}

// DID returns the actor's agent DID.
func (a *Actor) DID() string { return a.did }

// Identity returns the agent's public identity view (§4.5 GET /identity):
// no private key material.
func (a *Actor) Identity(ctx context.Context) (model.PublicKeys, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.idSvc.PublicKeys(ctx, a.did)
	})
	if err != nil {
		return model.PublicKeys{}, err
	}
	return v.(model.PublicKeys), nil
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt  string
	Options map[string]any
}

// PromptResult is the runtime result plus the updated session snapshot.
type PromptResult struct {
	Result  map[string]any
	Session model.Session
}

// Prompt runs one prompt turn (§4.5 POST /prompt): invoke the agent
// runtime, append the turn's messages to the session, trim+archive
// overflow, and return the runtime result.
func (a *Actor) Prompt(ctx context.Context, req PromptRequest) (PromptResult, error) {
	v, err := a.submit(ctx, func(ctx context.Context) (any, error) {
		return a.doPrompt(ctx, req)
	})
	if err != nil {
		return PromptResult{}, err
	}
	return v.(PromptResult), nil
}

func (a *Actor) doPrompt(ctx context.Context, req PromptRequest) (PromptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, PromptDeadline)
	defer cancel()

	cfg, err := a.cfgSvc.Get(ctx, a.did)
	if err != nil {
		return PromptResult{}, err
	}
	sess, _, err := a.store.GetSession(ctx, a.did)
	if err != nil {
		return PromptResult{}, err
	}

	host := a.toolsNew(cfg.EnabledTools)
	defs := host.Definitions()
	toolDefs := make([]ToolDefinition, 0, len(defs))
	for _, d := range defs {
		toolDefs = append(toolDefs, ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}

	agent, err := a.factory.New(ctx, InitialState{
		DID:           a.did,
		Config:        toAgentConfigView(cfg),
		Tools:         toolDefs,
		PriorMessages: toActorMessages(sess.Messages),
		Execute:       host.Execute,
	})
	if err != nil {
		a.events.Emit(a.did, "loop.error", map[string]any{"phase": "prompt", "error": err.Error()})
		return PromptResult{}, fmt.Errorf("actor: build agent: %w", err)
	}

	result, newMessages, err := agent.Prompt(ctx, req.Prompt, req.Options)
	if err != nil {
		a.events.Emit(a.did, "loop.error", map[string]any{"phase": "prompt", "error": err.Error()})
		return PromptResult{}, fmt.Errorf("actor: agent prompt failed: %w", err)
	}

	pipeline := memory.NewSessionPipeline(a.store, a.memSvc, a.logger)
	newSess, err := pipeline.AppendTurn(ctx, a.did, toModelMessages(newMessages))
	if err != nil {
		return PromptResult{}, err
	}

	return PromptResult{Result: result, Session: newSess}, nil
}

func toAgentConfigView(cfg model.AgentConfig) AgentConfigView {
	goals := make([]Goal, 0, len(cfg.Goals))
	for _, g := range cfg.Goals {
		goals = append(goals, Goal{ID: g.ID, Description: g.Description, Priority: g.Priority, Status: string(g.Status), Progress: g.Progress})
	}
	return AgentConfigView{
		Name: cfg.Name, Personality: cfg.Personality, Specialty: cfg.Specialty,
		Model: cfg.Model, FastModel: cfg.FastModel, LoopIntervalMs: cfg.LoopIntervalMs,
		Goals: goals,
	}
}

func toActorMessages(in []model.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func toModelMessages(in []Message) []model.Message {
	out := make([]model.Message, 0, len(in))
	now := time.Now().UTC()
	for _, m := range in {
		out = append(out, model.Message{Role: m.Role, Content: m.Content, Timestamp: now})
	}
	return out
}
