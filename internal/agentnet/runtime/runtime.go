// Package runtime is the default actor.AgentFactory the agentnetd binary
// wires in: one prompt/tool-call loop driven by an OpenAI-compatible chat
// completions endpoint. The spec treats the agent runtime as an opaque
// collaborator (§1's AgentFactory boundary); this is the reference one, not
// a required implementation — any other AgentFactory can be substituted at
// wiring time without touching the kernel.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/gitai/llm"
)

// maxToolCallRounds bounds one prompt turn's tool-call loop so a model
// that never stops requesting tools can't hang the actor past the
// mailbox's own PromptDeadline.
const maxToolCallRounds = 10

// Factory builds a chatCompletionAgent for every prompt turn, backed by a
// shared llm.Provider.
type Factory struct {
	Provider     llm.Provider
	SystemPrompt func(cfg actor.AgentConfigView) string
}

// New returns a Factory. systemPrompt builds the system message from the
// agent's config view; if nil, defaultSystemPrompt is used.
func New(provider llm.Provider, systemPrompt func(actor.AgentConfigView) string) *Factory {
	if systemPrompt == nil {
		systemPrompt = defaultSystemPrompt
	}
	return &Factory{Provider: provider, SystemPrompt: systemPrompt}
}

func defaultSystemPrompt(cfg actor.AgentConfigView) string {
	s := fmt.Sprintf("You are %s.", cfg.Name)
	if cfg.Personality != "" {
		s += " " + cfg.Personality
	}
	if cfg.Specialty != "" {
		s += fmt.Sprintf(" Your specialty is %s.", cfg.Specialty)
	}
	return s
}

func (f *Factory) New(ctx context.Context, initial actor.InitialState) (actor.Agent, error) {
	return &chatCompletionAgent{factory: f, initial: initial}, nil
}

type chatCompletionAgent struct {
	factory *Factory
	initial actor.InitialState
}

func toWireTools(defs []actor.ToolDefinition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func toWireHistory(msgs []actor.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		content := ""
		if s, ok := m.Content.(string); ok {
			content = s
		} else if m.Content != nil {
			if b, err := json.Marshal(m.Content); err == nil {
				content = string(b)
			}
		}
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: content})
	}
	return out
}

// Prompt runs the turn loop grounded on Gitai's App.runTurn: call the
// provider, and while it asks for tool calls, execute each through the
// kernel's tool host and feed the results back as tool-role messages,
// until the model returns plain text or the round cap is hit.
func (a *chatCompletionAgent) Prompt(ctx context.Context, input string, options map[string]any) (map[string]any, []actor.Message, error) {
	cfg := a.initial.Config
	wireTools := toWireTools(a.initial.Tools)

	history := make([]llm.Message, 0, len(a.initial.PriorMessages)+2)
	history = append(history, llm.Message{Role: llm.RoleSystem, Content: a.factory.SystemPrompt(cfg)})
	history = append(history, toWireHistory(a.initial.PriorMessages)...)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: input})

	newMessages := []actor.Message{{Role: string(llm.RoleUser), Content: input}}

	model := cfg.Model
	if fast, _ := options["fast"].(bool); fast && cfg.FastModel != "" {
		model = cfg.FastModel
	}

	for round := 0; round < maxToolCallRounds; round++ {
		resp, err := a.factory.Provider.Complete(ctx, llm.CompletionRequest{
			Model:    model,
			Messages: history,
			Tools:    wireTools,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: completion: %w", err)
		}

		history = append(history, resp.Message)
		newMessages = append(newMessages, actor.Message{Role: string(resp.Message.Role), Content: resp.Message.Content})

		if resp.FinishReason != "tool_calls" || len(resp.Message.ToolCalls) == 0 {
			return map[string]any{"content": resp.Message.Content}, newMessages, nil
		}

		for _, tc := range resp.Message.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}

			var content string
			if a.initial.Execute == nil {
				content = "error: no tool executor configured"
			} else if result, err := a.initial.Execute(ctx, tc.Function.Name, args); err != nil {
				content = fmt.Sprintf("error: %s", err)
			} else if b, err := json.Marshal(result); err == nil {
				content = string(b)
			}

			toolMsg := llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Name: tc.Function.Name, Content: content}
			history = append(history, toolMsg)
			newMessages = append(newMessages, actor.Message{Role: string(llm.RoleTool), Content: content})
		}
	}

	return nil, nil, fmt.Errorf("runtime: exceeded maximum tool call rounds (%d)", maxToolCallRounds)
}
