// Package gateway implements the HTTP/WS front door (§4.8, C8): CORS,
// health, bearer auth, agent-existence checks, JSON parsing, lexicon
// validation, and routing by name into the relay. Grounded on the
// teacher's internal/gateway/server.go ServeMux-plus-middleware shape,
// generalized from Gitai's single-agent JSON-RPC surface to a
// multi-agent REST+WS surface addressed by "/agents/<name>/...".
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/environments"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/relay"
)

// maxBodyBytes caps request bodies the gateway will decode, mirroring the
// teacher's webhook proxy's own inbound cap.
const maxBodyBytes = 1 << 20

// Config holds the gateway's environment-driven settings (§6's
// "Environment variables / bindings").
type Config struct {
	AdminToken  string
	CORSOrigin  string // defaults to "*"
	RequiredEnv map[string]string

	// RateLimitPerSec and RateLimitBurst bound requests/second per bearer
	// token; both default when zero (see defaultRateLimitPerSec/Burst).
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Server wires the relay, lexicon validator, and environments
// pass-through behind one http.ServeMux.
type Server struct {
	cfg          Config
	relay        *relay.Relay
	lex          *lexicon.Validator
	idSvc        *identity.Service
	cfgSvc       *config.Service
	environments environments.Client
	logger       *slog.Logger
	limiter      *tokenLimiter

	mux *http.ServeMux
}

// Defaults applied when Config leaves rate limiting unset.
const (
	defaultRateLimitPerSec = 5.0
	defaultRateLimitBurst  = 20
)

// New builds a Server and registers every route on its mux. idSvc and
// cfgSvc back the admin-only POST/GET /agents routes; the relay owns
// everything downstream of an already-minted agent.
func New(cfg Config, r *relay.Relay, lex *lexicon.Validator, idSvc *identity.Service, cfgSvc *config.Service, env environments.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if env == nil {
		env = environments.NoopClient{}
	}
	if cfg.RateLimitPerSec == 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	s := &Server{
		cfg: cfg, relay: r, lex: lex, idSvc: idSvc, cfgSvc: cfgSvc, environments: env, logger: logger,
		limiter: newTokenLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
	s.mux = http.NewServeMux()
	s.registerRoutes(s.mux)
	return s
}

// ServeHTTP implements http.Handler, applying CORS to every response
// (including error responses, per §4.8) before dispatching to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /agents", s.requireAdmin(s.handleCreateAgent))
	mux.HandleFunc("GET /agents", s.requireAdmin(s.handleListAgents))

	mux.HandleFunc("GET /environments", s.requireAdmin(s.handleListEnvironments))
	mux.HandleFunc("GET /environments/{id}", s.requireAdmin(s.handleGetEnvironment))

	mux.HandleFunc("GET /agents/{name}/identity", s.withAgent(s.handleIdentity))
	mux.HandleFunc("POST /agents/{name}/prompt", s.requireAdmin(s.withAgent(s.handlePrompt)))

	mux.HandleFunc("POST /agents/{name}/memory", s.requireAdmin(s.withAgent(s.handleStoreMemory)))
	mux.HandleFunc("GET /agents/{name}/memory", s.withAgent(s.handleReadMemory))
	mux.HandleFunc("PUT /agents/{name}/memory", s.requireAdmin(s.withAgent(s.handleUpdateMemory)))
	mux.HandleFunc("DELETE /agents/{name}/memory", s.requireAdmin(s.withAgent(s.handleDeleteMemory)))

	mux.HandleFunc("POST /agents/{name}/share", s.requireAdmin(s.withAgent(s.handleShare)))
	mux.HandleFunc("GET /agents/{name}/shared", s.withAgent(s.handleShared))

	mux.HandleFunc("POST /agents/{name}/inbox", s.requireAdmin(s.withAgent(s.handlePostInbox)))
	mux.HandleFunc("GET /agents/{name}/inbox", s.withAgent(s.handleListInbox))

	mux.HandleFunc("GET /agents/{name}/config", s.withAgent(s.handleGetConfig))
	mux.HandleFunc("PATCH /agents/{name}/config", s.requireAdmin(s.withAgent(s.handlePatchConfig)))

	mux.HandleFunc("POST /agents/{name}/loop/start", s.requireAdmin(s.withAgent(s.handleLoopStart)))
	mux.HandleFunc("POST /agents/{name}/loop/stop", s.requireAdmin(s.withAgent(s.handleLoopStop)))
	mux.HandleFunc("GET /agents/{name}/loop/status", s.requireAdmin(s.withAgent(s.handleLoopStatus)))

	mux.HandleFunc("GET /agents/{name}/ws", s.requireAdmin(s.withAgent(s.handleWS)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	missing := make([]string, 0)
	for name, val := range s.cfg.RequiredEnv {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "missing": []string{}})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "missing": missing})
}

// requireAdmin wraps h, returning 401 unless the request carries
// "Authorization: Bearer <AdminToken>" (§4.8 step 3). Comparison is
// constant-time to avoid leaking the token through response timing. A
// bearer token exceeding its rate budget is rejected with 429 before the
// handler runs.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
			subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, fmt.Errorf("%w: missing or invalid bearer token", apierr.ErrUnauthorized))
			return
		}
		token := auth[len(prefix):]
		if !s.limiter.allow(token) {
			writeError(w, fmt.Errorf("%w: too many requests", apierr.ErrRateLimited))
			return
		}
		h(w, r)
	}
}

// withAgent resolves the {name} path parameter to a live actor before
// calling h, returning 404 for an unknown name (§4.8 step 4). Handlers
// re-resolve by name themselves; Relay.ActorByDID's cache makes the
// second lookup a cheap read-locked map hit, not a respawn.
func (s *Server) withAgent(h func(w http.ResponseWriter, r *http.Request, name string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, err := s.relay.Resolve(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		h(w, r, name)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apierr.ErrInvalidInput, "Invalid JSON")
	}
	return nil
}

// validateRecordBody runs §4.8 step 6: if body carries a "$type" key,
// validate it against the lexicon and return the (possibly
// default-filled) validated body; otherwise body is returned unchanged.
func (s *Server) validateRecordBody(body map[string]any) (map[string]any, error) {
	typ, ok := body["$type"].(string)
	if !ok || typ == "" {
		return body, nil
	}
	validated, err := s.lex.Validate(typ, body)
	if err != nil {
		return nil, err
	}
	return validated, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its §7 status code and envelope. Lexicon
// validation errors carry their structured issues; everything else is a
// plain {error} body.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	body := map[string]any{"error": errorMessage(err)}
	if issues := apierr.Issues(err); len(issues) > 0 {
		body["issues"] = issues
	}
	writeJSON(w, status, body)
}

func errorMessage(err error) string {
	switch apierr.StatusCode(err) {
	case http.StatusBadRequest:
		if len(apierr.Issues(err)) > 0 {
			return "Invalid record"
		}
		return "Invalid JSON"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return "Internal Server Error"
	}
}

// ctxTimeout bounds how long a single route handler may run before the
// underlying actor call is abandoned (not the prompt's own, longer,
// deadline — see actor.PromptDeadline).
const ctxTimeout = 65 * time.Second

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), ctxTimeout)
}
