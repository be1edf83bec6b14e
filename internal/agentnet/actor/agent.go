package actor

import "context"

// Agent is the opaque agent-runtime object the kernel drives but does not
// implement (§1: "the LLM/tool-calling agent itself ... consumed as an
// opaque AgentFactory"). The kernel only calls Prompt and appends the messages it returns;
// everything about model selection, reasoning, and tool-call loops is the
// runtime's own business.
type Agent interface {
	// Prompt runs one turn: input is the user-facing prompt text, options
	// is the caller-supplied `{prompt, options?}` body's options object.
	// It returns the runtime's result object (echoed verbatim as
	// `prompt.result`'s `result` field) and any new messages this turn
	// produced, in order, to append to the session.
	Prompt(ctx context.Context, input string, options map[string]any) (result map[string]any, newMessages []Message, err error)
}

// Message mirrors model.Message's shape without importing model, since an
// AgentFactory implementation should not need to depend on the kernel's
// storage types to satisfy this contract.
type Message struct {
	Role    string
	Content any
}

// InitialState is everything an AgentFactory needs to build one Agent: the
// agent's config, its tool definitions, its prior session messages, and a
// callback to actually invoke a tool by name (the Tools list above is
// metadata only — Execute is what makes a tool definition callable).
type InitialState struct {
	DID           string
	Config        AgentConfigView
	Tools         []ToolDefinition
	PriorMessages []Message
	Execute       func(ctx context.Context, name string, args map[string]any) (any, error)
}

// AgentConfigView is the subset of AgentConfig an agent runtime needs to
// see, kept separate from model.AgentConfig for the same reason Message is
// kept separate from model.Message.
type AgentConfigView struct {
	Name           string
	Personality    string
	Specialty      string
	Model          string
	FastModel      string
	LoopIntervalMs int
	Goals          []Goal
}

// Goal mirrors model.Goal.
type Goal struct {
	ID          string
	Description string
	Priority    int
	Status      string
	Progress    float64
}

// ToolDefinition mirrors tools.Definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// AgentFactory produces a fresh Agent for one prompt/loop turn, given the
// actor's current state. A factory is stateless between calls; all
// conversational state lives in InitialState.PriorMessages and the
// returned Agent's own internal message list for that single call.
type AgentFactory interface {
	New(ctx context.Context, initial InitialState) (Agent, error)
}
