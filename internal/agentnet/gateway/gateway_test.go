package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/environments"
	"github.com/agentnet/kernel/internal/agentnet/gateway"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/relay"
	"github.com/agentnet/kernel/internal/agentnet/scheduler"
	"github.com/agentnet/kernel/internal/agentnet/store"
	"github.com/agentnet/kernel/internal/agentnet/tools"
)

type noopSink struct{}

func (noopSink) Emit(string, string, map[string]any) {}

type echoAgent struct{}

func (echoAgent) Prompt(ctx context.Context, input string, options map[string]any) (map[string]any, []actor.Message, error) {
	return map[string]any{"echo": input}, nil, nil
}

type echoFactory struct{}

func (echoFactory) New(ctx context.Context, initial actor.InitialState) (actor.Agent, error) {
	return echoAgent{}, nil
}

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "agentnet-gateway-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	idSvc := identity.New(st, key)
	memSvc := memory.New(st, idSvc)
	cfgSvc := config.New(st)
	lex, err := lexicon.New()
	if err != nil {
		t.Fatalf("lexicon.New: %v", err)
	}
	sched := scheduler.New(st, func(ctx context.Context, did string) error { return nil }, noopSink{})

	spawn := func(did, name string) *actor.Actor {
		toolsFor := func(enabled []string) *tools.Host {
			return tools.NewHost(tools.HostParams{
				DID: did, AgentName: name, EnabledTools: enabled,
				Memory: memSvc, Config: cfgSvc, Lexicon: lex,
			})
		}
		return actor.New(actor.Params{
			DID: did, Name: name, Store: st, Identity: idSvc, Memory: memSvc,
			Config: cfgSvc, Scheduler: sched, ToolsFor: toolsFor, Factory: echoFactory{}, Events: noopSink{},
		})
	}
	r := relay.New(st, nil, spawn)
	t.Cleanup(r.Shutdown)

	srv := gateway.New(gateway.Config{AdminToken: testAdminToken}, r, lex, idSvc, cfgSvc, environments.NoopClient{}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if resp.ContentLength != 0 {
		json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestHealth_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.StatusCode, body)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestCORS_PreflightReturnsNoContent(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/agents", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS header on preflight response")
	}
}

func TestAdminRoutes_RejectMissingOrWrongToken(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/agents", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d: %+v", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS header even on an error response")
	}

	resp2, _ := doJSON(t, http.MethodGet, ts.URL+"/agents", "wrong-token", nil)
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp2.StatusCode)
	}
}

func TestUnknownAgent_Returns404(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/agents/ghost/identity", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateAgent_PromptMemoryShareConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/agents", testAdminToken, map[string]any{
		"name":   "weatherbot",
		"config": map[string]any{"personality": "cheerful"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create agent: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	if body["did"] == "" || body["did"] == nil {
		t.Fatalf("expected a minted did, got %+v", body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/agents", testAdminToken, map[string]any{"name": "weatherbot"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate name, got %d: %+v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/agents/weatherbot/identity", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identity: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	if body["encryption"] == "" || body["signing"] == "" {
		t.Fatalf("expected public keys, got %+v", body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/agents/weatherbot/prompt", testAdminToken, map[string]any{
		"prompt": "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prompt: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	result, _ := body["result"].(map[string]any)
	if result["echo"] != "hello" {
		t.Fatalf("expected echoed prompt, got %+v", body)
	}

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/agents/weatherbot/memory", testAdminToken, map[string]any{
		"$type":     "agent.memory.note",
		"summary":   "met with ally",
		"createdAt": "2026-07-31T00:00:00Z",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store memory: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("expected a record id, got %+v", body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/agents/weatherbot/memory?collection=agent.memory.note", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list memory: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 memory entry, got %+v", body)
	}

	resp, body = doJSON(t, http.MethodPatch, ts.URL+"/agents/weatherbot/config", testAdminToken, map[string]any{
		"specialty": "forecasts",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch config: expected 200, got %d: %+v", resp.StatusCode, body)
	}
	if body["personality"] != "cheerful" {
		t.Fatalf("expected untouched personality to survive the patch, got %+v", body)
	}
	if body["specialty"] != "forecasts" {
		t.Fatalf("expected patched specialty, got %+v", body)
	}
}

func TestPostInbox_MismatchedRecipientForbidden(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/agents", testAdminToken, map[string]any{"name": "newsbot"})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/agents/newsbot/inbox", testAdminToken, map[string]any{
		"recipient": "did:agentnet:someoneelse",
		"sender":    "did:agentnet:other",
		"content":   map[string]any{"kind": "text"},
		"createdAt": "2026-07-31T00:00:00Z",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched inbox recipient, got %d: %+v", resp.StatusCode, body)
	}
}

func TestListAgents_ReturnsRegisteredNames(t *testing.T) {
	ts := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/agents", testAdminToken, map[string]any{"name": "alpha"})
	doJSON(t, http.MethodPost, ts.URL+"/agents", testAdminToken, map[string]any{"name": "beta"})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/agents", testAdminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.StatusCode, body)
	}
	agents, _ := body["agents"].([]any)
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %+v", body)
	}
}
