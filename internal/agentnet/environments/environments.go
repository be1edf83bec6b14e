// Package environments implements the opaque pass-through to whatever
// "environment" subsystem (games, RPG, work queue, etc.) is plugged into
// this kernel instance (§6's "opaque pass-through to the environments
// collaborator"; §1's Non-goals: the kernel only mediates an environment's
// access to the record store and broadcasts, never implements one).
// Grounded on the teacher's internal/ruriko/webhook/proxy.go forwarding
// shape: authenticate, build a fresh outbound request, forward the
// response verbatim.
package environments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agentnet/kernel/internal/agentnet/apierr"
)

// Client is the admin-facing pass-through contract for GET
// /environments[/<id>]. Responses are forwarded byte-for-byte; this kernel
// never parses or validates what an environment collaborator returns.
type Client interface {
	List(ctx context.Context) (status int, contentType string, body []byte, err error)
	Get(ctx context.Context, id string) (status int, contentType string, body []byte, err error)
}

// HTTPClient proxies to a remote environments collaborator over HTTP,
// authenticating with a static bearer token (the same scheme
// webhook/proxy.go uses for its outbound ACP forward).
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a Client rooted at baseURL, authenticating every
// request with token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) List(ctx context.Context) (int, string, []byte, error) {
	return c.forward(ctx, "/environments")
}

func (c *HTTPClient) Get(ctx context.Context, id string) (int, string, []byte, error) {
	return c.forward(ctx, "/environments/"+url.PathEscape(id))
}

func (c *HTTPClient) forward(ctx context.Context, path string) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("environments: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("%w: environments request: %v", apierr.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, "", nil, fmt.Errorf("environments: read response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}

// NoopClient is used when no environments collaborator is configured
// (§4.6's environment-bindings health check: RELAY, object-store, etc. list
// as missing, but /environments itself must still answer, unavailable
// rather than absent).
type NoopClient struct{}

func (NoopClient) List(ctx context.Context) (int, string, []byte, error) {
	return 0, "", nil, fmt.Errorf("%w: no environments collaborator configured", apierr.ErrTransient)
}

func (NoopClient) Get(ctx context.Context, id string) (int, string, []byte, error) {
	return 0, "", nil, fmt.Errorf("%w: no environments collaborator configured", apierr.ErrTransient)
}
