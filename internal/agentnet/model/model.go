// Package model holds the data types shared across the kernel: the durable
// per-agent state (identity, config, session, loop) and the encrypted
// record/share rows the store persists. None of these types encrypt or
// decrypt anything themselves — that is memory's and store's job — they are
// the plain Go shapes that flow between layers.
package model

import (
	"strings"
	"time"
)

// GoalStatus enumerates the lifecycle states of an AgentConfig goal.
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalActive     GoalStatus = "active"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalBlocked    GoalStatus = "blocked"
	GoalCancelled  GoalStatus = "cancelled"
)

// Goal is one entry in AgentConfig.Goals.
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      GoalStatus `json:"status"`
	Progress    float64    `json:"progress"`
	CreatedAt   int64      `json:"createdAt"`
}

// Profile is the agent's self-reported status, truncated per §4.9 by
// update_profile before being merged into config.
type Profile struct {
	Status       string `json:"status,omitempty"`
	CurrentFocus string `json:"currentFocus,omitempty"`
	Mood         string `json:"mood,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
}

// Field length limits enforced by tools.UpdateProfile (§4.9).
const (
	ProfileStatusMaxLen       = 100
	ProfileCurrentFocusMaxLen = 200
	ProfileMoodMaxLen         = 50
)

// DefaultModel, DefaultFastModel, DefaultLoopIntervalMs, and MinLoopIntervalMs
// are the AgentConfig defaults and clamp floor from §3/§4.6.
const (
	DefaultModel         = "moonshotai/kimi-k2.5"
	DefaultFastModel     = "google/gemini-2.0-flash-001"
	DefaultLoopIntervalMs = 60000
	MinLoopIntervalMs     = 5000
)

// AgentConfig is the per-agent configuration blob, deep-merged on PATCH
// (§3, §4.5, P6).
type AgentConfig struct {
	Name          string          `json:"name"`
	Personality   string          `json:"personality"`
	Specialty     string          `json:"specialty,omitempty"`
	Model         string          `json:"model"`
	FastModel     string          `json:"fastModel"`
	LoopIntervalMs int            `json:"loopIntervalMs"`
	Goals         []Goal          `json:"goals,omitempty"`
	EnabledTools  []string        `json:"enabledTools,omitempty"`
	Profile       *Profile        `json:"profile,omitempty"`
}

// Defaulted returns a copy of cfg with zero-value fields set to the §3
// defaults. It does not clamp LoopIntervalMs — callers that accept external
// input must call ClampLoopInterval explicitly (PATCH does via config.Merge;
// POST /agents calls it directly before config.Set).
func (c AgentConfig) Defaulted() AgentConfig {
	out := c
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.FastModel == "" {
		out.FastModel = DefaultFastModel
	}
	if out.LoopIntervalMs == 0 {
		out.LoopIntervalMs = DefaultLoopIntervalMs
	}
	return out
}

// ClampLoopInterval enforces the §3/§7 invariant: loopIntervalMs >= 5000,
// silently raised rather than rejected.
func (c *AgentConfig) ClampLoopInterval() {
	if c.LoopIntervalMs < MinLoopIntervalMs {
		c.LoopIntervalMs = MinLoopIntervalMs
	}
}

// KeyMaterial is the JWK pair (public+private) for one key type, mirroring
// the durable identity blob shape in §3.
type KeyMaterial struct {
	Algorithm  string `json:"algorithm"`
	PublicJWK  any    `json:"publicJwk"`
	PrivateJWK any    `json:"privateJwk"`
}

// Identity is the durable identity blob persisted per agent (§3).
type Identity struct {
	Version       int         `json:"version"`
	DID           string      `json:"did"`
	CreatedAt     int64       `json:"createdAt"`
	SigningKey    KeyMaterial `json:"signingKey"`
	EncryptionKey KeyMaterial `json:"encryptionKey"`
}

// PublicKeys is the public-only projection of Identity returned by
// GET /identity and the key directory.
type PublicKeys struct {
	Encryption string `json:"encryption"`
	Signing    string `json:"signing"`
}

// Message is one entry in a Session's message list.
type Message struct {
	Role      string    `json:"role"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable rolling conversation window (§3, §4.4, §8 P7).
type Session struct {
	Version      int       `json:"version"`
	Messages     []Message `json:"messages"`
	BranchPoints []int     `json:"branchPoints,omitempty"`
}

// MaxSessionMessages is the hard cap enforced after every prompt turn (P7).
const MaxSessionMessages = 50

// LoopState is the durable scheduler state per agent (§3, §4.6).
type LoopState struct {
	LoopRunning bool   `json:"loopRunning"`
	LoopCount   int    `json:"loopCount"`
	NextAlarmAt *int64 `json:"nextAlarmAt,omitempty"`
}

// Record is one row of the encrypted record store (§3).
type Record struct {
	ID           string
	DID          string
	Collection   string
	Rkey         string
	Ciphertext   []byte
	EncryptedDek []byte
	Nonce        []byte
	Public       bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	DeletedAt    *time.Time
}

// CanonicalID returns "<did>/<collection>/<rkey>" per §3.
func (r Record) CanonicalID() string {
	return r.DID + "/" + r.Collection + "/" + r.Rkey
}

// SplitCanonicalID reverses CanonicalID: the DID itself never contains a
// "/" (it's "did:agentnet:<hex>"), so the first segment up to the first
// slash is the owner DID, the last segment is the rkey, and everything
// between is the (dotted, slash-free) collection name.
func SplitCanonicalID(id string) (did, collection, rkey string, ok bool) {
	first := strings.IndexByte(id, '/')
	last := strings.LastIndexByte(id, '/')
	if first < 0 || first == last {
		return "", "", "", false
	}
	return id[:first], id[first+1 : last], id[last+1:], true
}

// SharedRecord is one row of the shared-record table (§3).
type SharedRecord struct {
	ID           int64
	RecordID     string
	RecipientDID string
	EncryptedDek []byte
	SharedAt     time.Time
}

// AgentRegistryRow is one row of the global name->DID registry (§3).
type AgentRegistryRow struct {
	Name      string    `json:"name"`
	DID       string    `json:"did"`
	CreatedAt time.Time `json:"createdAt"`
}
