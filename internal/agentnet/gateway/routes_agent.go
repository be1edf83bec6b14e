package gateway

import (
	"net/http"
	"strconv"

	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

func (s *Server) resolve(r *http.Request, name string) (*actor.Actor, error) {
	return s.relay.Resolve(r.Context(), name)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request, name string) {
	ctx, cancel := withTimeout(r)
	defer cancel()
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	pub, err := a.Identity(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request, name string) {
	var body struct {
		Prompt  string         `json:"prompt"`
		Options map[string]any `json:"options"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	res, err := a.Prompt(ctx, actor.PromptRequest{Prompt: body.Prompt, Options: body.Options})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res.Result, "session": res.Session})
}

// recordKey is the "<collection>/<rkey>" id shape used by the memory and
// shared routes' id= query parameter (the owning DID is already implied
// by the /agents/{name}/ route prefix, so CanonicalID's three-part form
// would be redundant here).
func recordKey(id string) (collection, rkey string, ok bool) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[:i], id[i+1:], true
		}
	}
	return "", "", false
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request, name string) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	collection, _ := body["$type"].(string)
	if collection == "" {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "$type", Message: "required"}}))
		return
	}
	validated, err := s.validateRecordBody(body)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	public := r.URL.Query().Get("public") == "true"
	ctx, cancel := withTimeout(r)
	defer cancel()
	id, err := a.StoreMemory(ctx, collection, validated, public)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleReadMemory(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		collection, rkey, ok := recordKey(id)
		if !ok {
			writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "id", Message: "expected <collection>/<rkey>"}}))
			return
		}
		rec, err := a.GetMemory(ctx, collection, rkey)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "record": rec})
		return
	}

	collection := q.Get("collection")
	if collection == "" {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "collection", Message: "required when id is absent"}}))
		return
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	entries, err := a.ListMemory(ctx, collection, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request, name string) {
	id := r.URL.Query().Get("id")
	collection, rkey, ok := recordKey(id)
	if !ok {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "id", Message: "expected <collection>/<rkey>"}}))
		return
	}
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	validated, err := s.validateRecordBody(body)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := a.UpdateMemory(ctx, collection, rkey, validated); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request, name string) {
	id := r.URL.Query().Get("id")
	collection, rkey, ok := recordKey(id)
	if !ok {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "id", Message: "expected <collection>/<rkey>"}}))
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := a.DeleteMemory(ctx, collection, rkey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, name string) {
	var body struct {
		ID        string `json:"id"`
		Recipient string `json:"recipient"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	collection, rkey, ok := recordKey(body.ID)
	if !ok {
		writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "id", Message: "expected <collection>/<rkey>"}}))
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	if err := a.Share(ctx, collection, rkey, body.Recipient); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shared": true})
}

func (s *Server) handleShared(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()

	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		owner := q.Get("owner")
		if owner == "" {
			writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "owner", Message: "required with id"}}))
			return
		}
		collection, rkey, ok := recordKey(id)
		if !ok {
			writeError(w, apierr.NewValidation([]apierr.Issue{{Path: "id", Message: "expected <collection>/<rkey>"}}))
			return
		}
		rec, err := a.GetShared(ctx, owner, collection, rkey)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "record": rec})
		return
	}

	entries, err := a.ListShared(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handlePostInbox(w http.ResponseWriter, r *http.Request, name string) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	body["$type"] = actor.InboxCollection
	validated, err := s.validateRecordBody(body)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	id, err := a.PostInbox(ctx, validated)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	entries, err := a.ListInbox(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	cfg, err := a.GetConfig(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request, name string) {
	var patch model.AgentConfig
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	cfg, err := a.PatchConfig(ctx, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleLoopStart(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	snap, err := a.LoopStart(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLoopStop(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	snap, err := a.LoopStop(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLoopStatus(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r)
	defer cancel()
	snap, err := a.LoopStatus(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, name string) {
	a, err := s.resolve(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	a.HandleWS(w, r)
}
