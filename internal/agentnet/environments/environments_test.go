package environments_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/environments"
)

func TestHTTPClient_ForwardsListResponseVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer topsecret" {
			t.Errorf("expected bearer token forwarded, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/environments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":"rpg-1"}]`))
	}))
	defer srv.Close()

	c := environments.NewHTTPClient(srv.URL, "topsecret")
	status, contentType, body, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content-type: %s", contentType)
	}
	if string(body) != `[{"id":"rpg-1"}]` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHTTPClient_Get_PathEscapesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/environments/rpg%2F1" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := environments.NewHTTPClient(srv.URL, "tok")
	if _, _, _, err := c.Get(context.Background(), "rpg/1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestNoopClient_ReturnsTransientError(t *testing.T) {
	var c environments.NoopClient
	_, _, _, err := c.List(context.Background())
	if !errors.Is(err, apierr.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}
