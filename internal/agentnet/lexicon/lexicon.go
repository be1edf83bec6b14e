// Package lexicon validates incoming record bodies against the named
// schemas from spec.md §6 ("Recognized $type values"). The teacher's go.mod
// already declares github.com/santhosh-tekuri/jsonschema/v5 but never
// exercises it (Gosuto validation there is hand-rolled Go); this package is
// where that dependency finally earns its keep.
package lexicon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
)

// schemaSource holds the raw JSON Schema text for one $type, keyed by the
// $type string itself (also embedded as the schema's $id for resolution).
var schemaSource = map[string]string{
	"agent.memory.note": `{
		"$id": "agent.memory.note",
		"type": "object",
		"required": ["summary", "createdAt"],
		"properties": {
			"summary": {"type": "string", "minLength": 1},
			"text": {"type": "string"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"createdAt": {"type": "string", "format": "date-time"}
		}
	}`,
	"agent.memory.decision": `{
		"$id": "agent.memory.decision",
		"type": "object",
		"required": ["decision", "status", "createdAt"],
		"properties": {
			"decision": {"type": "string", "minLength": 1},
			"status": {"type": "string", "minLength": 1},
			"context": {"type": "string"},
			"rationale": {"type": "string"},
			"createdAt": {"type": "string", "format": "date-time"}
		}
	}`,
	"agent.comms.message": `{
		"$id": "agent.comms.message",
		"type": "object",
		"required": ["sender", "recipient", "content", "createdAt"],
		"properties": {
			"sender": {"type": "string", "minLength": 1},
			"recipient": {"type": "string", "minLength": 1},
			"content": {
				"type": "object",
				"required": ["kind"],
				"properties": {
					"kind": {"type": "string", "enum": ["text", "json", "ref"]}
				}
			},
			"createdAt": {"type": "string", "format": "date-time"},
			"priority": {"type": "integer"}
		}
	}`,
	"agent.session.archive": `{
		"$id": "agent.session.archive",
		"type": "object",
		"required": ["messages", "archivedAt"],
		"properties": {
			"messages": {"type": "array"},
			"archivedAt": {"type": "string", "format": "date-time"}
		}
	}`,
}

// defaults are injected into a record after successful validation, per
// §4.8 step 6 ("successful validation injects defaults").
var defaults = map[string]map[string]any{
	"agent.comms.message": {"priority": float64(3)},
}

// Validator compiles and caches the lexicon schemas.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// New compiles every known schema eagerly so a malformed schema fails at
// startup rather than on the first request.
func New() (*Validator, error) {
	v := &Validator{compiled: make(map[string]*jsonschema.Schema, len(schemaSource))}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	for typ, src := range schemaSource {
		if err := compiler.AddResource(typ, bytes.NewReader([]byte(src))); err != nil {
			return nil, fmt.Errorf("lexicon: add schema %q: %w", typ, err)
		}
	}
	for typ := range schemaSource {
		sch, err := compiler.Compile(typ)
		if err != nil {
			return nil, fmt.Errorf("lexicon: compile schema %q: %w", typ, err)
		}
		v.compiled[typ] = sch
	}
	return v, nil
}

// Known reports whether typ has a registered schema. Record types not in
// the lexicon are accepted as opaque per §6 ("Fields not listed above are
// accepted as opaque").
func (v *Validator) Known(typ string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.compiled[typ]
	return ok
}

// Validate checks body (a decoded JSON object with a "$type" key already
// extracted by the caller as typ) against typ's schema, returning an
// apierr.ValidationError on failure. If typ is unknown, Validate is a no-op
// (opaque record) and returns body unchanged.
func (v *Validator) Validate(typ string, body map[string]any) (map[string]any, error) {
	v.mu.RLock()
	sch, ok := v.compiled[typ]
	v.mu.RUnlock()
	if !ok {
		return body, nil
	}

	if err := sch.Validate(toInterfaceMap(body)); err != nil {
		return nil, apierr.NewValidation(issuesFromValidationError(err))
	}

	out := applyDefaults(typ, body)
	return out, nil
}

// applyDefaults returns a shallow copy of body with any missing default
// fields for typ filled in.
func applyDefaults(typ string, body map[string]any) map[string]any {
	d, ok := defaults[typ]
	if !ok {
		return body
	}
	out := make(map[string]any, len(body)+len(d))
	for k, v := range body {
		out[k] = v
	}
	for k, v := range d {
		if _, present := out[k]; !present {
			out[k] = v
		}
	}
	return out
}

// toInterfaceMap round-trips through encoding/json so jsonschema sees the
// same number/string/object representation it would for a freshly decoded
// document, regardless of how the caller constructed body.
func toInterfaceMap(body map[string]any) any {
	b, err := json.Marshal(body)
	if err != nil {
		return body
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return body
	}
	return v
}

// issuesFromValidationError flattens a jsonschema.ValidationError tree into
// the flat []apierr.Issue list §4.8/§6 specifies.
func issuesFromValidationError(err error) []apierr.Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []apierr.Issue{{Path: "", Message: err.Error()}}
	}

	var issues []apierr.Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, apierr.Issue{
				Path:    e.InstanceLocation,
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}
