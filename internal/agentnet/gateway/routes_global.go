package gateway

import (
	"net/http"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

// handleCreateAgent implements §4.5 POST /agents: mint a fresh identity
// under the requested name, seed its config from the request body (§3
// defaults filled in for anything left zero, loopIntervalMs clamped),
// and return the minted DID. 409 if the name is already registered.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string            `json:"name"`
		Config model.AgentConfig `json:"config"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "name", Message: "required"}}))
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	ident, err := s.idSvc.Mint(ctx, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg := body.Config
	cfg.Name = body.Name
	cfg = cfg.Defaulted()
	cfg.ClampLoopInterval()
	cfg, err = s.cfgSvc.Set(ctx, ident.DID, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"did": ident.DID, "name": body.Name, "config": cfg})
}

// handleListAgents implements §4.5 GET /agents: the global name->DID
// registry, oldest first (the store orders rows by creation time).
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	rows, err := s.relay.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": rows})
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	status, contentType, body, err := s.environments.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	forwardBody(w, status, contentType, body)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, contentType, body, err := s.environments.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	forwardBody(w, status, contentType, body)
}

func forwardBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	w.Write(body)
}
