// Package tools implements the base tool set an agent runtime is handed
// via initialState.tools (§4.9, C9): remember, recall, update_profile, and
// the double-gated gm tool, each bounded to a fixed execution timeout so a
// slow tool call never blocks an actor past its scheduled interval.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

// ReservedOperatorName is the agent name the gm tool is gated on in
// addition to its enabledTools allowlist entry (§4.9, §7's
// "grimlock-only" double gate).
const ReservedOperatorName = "grimlock"

// DefaultTimeout is the bounded execution deadline for one tool call
// (§4.9: "a tool that must wait for external I/O returns a result after
// a bounded timeout (default 30s)").
const DefaultTimeout = 30 * time.Second

// Definition is the LLM-facing shape of one tool: name, description, and
// a JSON Schema parameters object, mirroring initialState.tools.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Tool is one callable entry in a Host's registry.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// GMHandler is the opaque "environment" extension's handler for the gm
// tool (§1: environments are plugged-in tools the kernel only mediates
// access for, never implements).
type GMHandler func(ctx context.Context, args map[string]any) (any, error)

// Host builds and executes the tool set available to one agent, scoped to
// its enabledTools config and agent name.
type Host struct {
	tools   map[string]Tool
	timeout time.Duration
}

// HostParams are the actor-local collaborators a Host's tools close over.
type HostParams struct {
	DID          string
	AgentName    string
	EnabledTools []string
	Memory       *memory.Service
	Config       *config.Service
	Lexicon      *lexicon.Validator
	GM           GMHandler
	Timeout      time.Duration // 0 defaults to DefaultTimeout
}

// NewHost builds the tool registry for one agent, gating gm on both the
// enabledTools allowlist and p.AgentName == ReservedOperatorName.
func NewHost(p HostParams) *Host {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	enabled := make(map[string]bool, len(p.EnabledTools))
	for _, name := range p.EnabledTools {
		enabled[name] = true
	}

	h := &Host{tools: make(map[string]Tool), timeout: timeout}

	if enabled["remember"] {
		h.tools["remember"] = rememberTool{did: p.DID, memory: p.Memory, lexicon: p.Lexicon}
	}
	if enabled["recall"] {
		h.tools["recall"] = recallTool{did: p.DID, memory: p.Memory}
	}
	if enabled["update_profile"] {
		h.tools["update_profile"] = updateProfileTool{did: p.DID, config: p.Config}
	}
	if enabled["gm"] && p.AgentName == ReservedOperatorName && p.GM != nil {
		h.tools["gm"] = gmTool{handler: p.GM}
	}

	return h
}

// Definitions returns the LLM-facing definitions for every tool this host
// exposes, suitable for initialState.tools.
func (h *Host) Definitions() []Definition {
	defs := make([]Definition, 0, len(h.tools))
	for _, t := range h.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Execute runs the named tool with a bounded deadline. A timeout or
// missing tool is reported as an error the caller should surface as a
// loop.error event rather than aborting the actor.
func (h *Host) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := h.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: tool %q not enabled", apierr.ErrInvalidInput, name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := t.Execute(ctx, args)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tool %q: %w", name, ctx.Err())
	}
}

// rememberTool implements §4.9's remember(record): validate with lexicon,
// store via the memory subsystem, return {id}.
type rememberTool struct {
	did     string
	memory  *memory.Service
	lexicon *lexicon.Validator
}

func (rememberTool) Definition() Definition {
	return Definition{
		Name:        "remember",
		Description: "Store a record in private memory after validating it against its lexicon type.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"$type", "body"},
			"properties": map[string]any{
				"$type": map[string]any{"type": "string"},
				"body":  map[string]any{"type": "object"},
			},
		},
	}
}

func (t rememberTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	typ, _ := args["$type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("%w: remember requires $type", apierr.ErrInvalidInput)
	}
	body, _ := args["body"].(map[string]any)
	if body == nil {
		body = map[string]any{}
	}

	validated, err := t.lexicon.Validate(typ, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrInvalidInput, err)
	}

	id, err := t.memory.Store(ctx, t.did, typ, validated, memory.StoreOptions{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id}, nil
}

// recallTool implements §4.9's recall(query, limit?): exact-match/substring
// filtering over decrypted records, no semantic search.
type recallTool struct {
	did    string
	memory *memory.Service
}

func (recallTool) Definition() Definition {
	return Definition{
		Name:        "recall",
		Description: "List recent private records, optionally filtered by a substring match.",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"collection"},
			"properties": map[string]any{
				"collection": map[string]any{"type": "string"},
				"query":      map[string]any{"type": "string"},
				"limit":      map[string]any{"type": "integer"},
			},
		},
	}
}

func (t recallTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	collection, _ := args["collection"].(string)
	if collection == "" {
		return nil, fmt.Errorf("%w: recall requires collection", apierr.ErrInvalidInput)
	}
	query, _ := args["query"].(string)
	limit := 0
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}

	all, err := t.memory.List(ctx, t.did, collection)
	if err != nil {
		return nil, err
	}

	matches := make([]map[string]any, 0, len(all))
	for _, rec := range all {
		if query == "" || recordMatches(rec, query) {
			matches = append(matches, rec)
		}
		if limit > 0 && len(matches) >= limit {
			break
		}
	}
	return map[string]any{"entries": matches}, nil
}

func recordMatches(rec map[string]any, query string) bool {
	q := strings.ToLower(query)
	for _, v := range rec {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// updateProfileTool implements §4.9's update_profile(profile): truncate
// fields to the §3 max lengths, then deep-merge into config.
type updateProfileTool struct {
	did    string
	config *config.Service
}

func (updateProfileTool) Definition() Definition {
	return Definition{
		Name:        "update_profile",
		Description: "Update the agent's self-reported status, current focus, and mood.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":       map[string]any{"type": "string"},
				"currentFocus": map[string]any{"type": "string"},
				"mood":         map[string]any{"type": "string"},
			},
		},
	}
}

func (t updateProfileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	profile := &model.Profile{
		Status:       truncate(stringArg(args, "status"), model.ProfileStatusMaxLen),
		CurrentFocus: truncate(stringArg(args, "currentFocus"), model.ProfileCurrentFocusMaxLen),
		Mood:         truncate(stringArg(args, "mood"), model.ProfileMoodMaxLen),
		UpdatedAt:    time.Now().UTC().UnixMilli(),
	}

	merged, err := t.config.Merge(ctx, t.did, model.AgentConfig{Profile: profile})
	if err != nil {
		return nil, err
	}
	return map[string]any{"profile": merged.Profile}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// gmTool implements §4.9's double-gated gm tool: it exists in a Host's
// registry only when both enabledTools contains "gm" and the agent is
// ReservedOperatorName; its behavior itself is fully delegated to the
// environment extension's handler.
type gmTool struct {
	handler GMHandler
}

func (gmTool) Definition() Definition {
	return Definition{
		Name:        "gm",
		Description: "Invoke the environment extension's game-master operation.",
		Parameters:  map[string]any{"type": "object"},
	}
}

func (t gmTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.handler(ctx, args)
}
