package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentnet/kernel/common/retry"
	"github.com/agentnet/kernel/internal/agentnet/apierr"
	"github.com/agentnet/kernel/internal/agentnet/model"
)

// DirectoryClient resolves a peer's public keys from a remote key
// directory (another kernel instance's gateway, reachable over HTTP).
// Concurrent lookups for the same DID are deduped with singleflight, and
// each lookup retries transient failures with common/retry — both
// patterns grounded on the handshake-server.go precedent in the pack
// (singleflight.Group per lookup key, did.Resolver-shaped public API).
type DirectoryClient struct {
	baseURL string
	client  *http.Client

	sf singleflight.Group

	mu    sync.RWMutex
	cache map[string]model.PublicKeys
}

// NewDirectoryClient builds a client against a remote gateway's /identity
// endpoints, rooted at baseURL (e.g. "https://peer.example.com").
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]model.PublicKeys),
	}
}

// Lookup returns the public keys for did, deduping concurrent callers and
// caching successful results for the process lifetime (key material never
// rotates in place — a rotated key mints a new DID, per §3).
func (c *DirectoryClient) Lookup(ctx context.Context, did string) (model.PublicKeys, error) {
	c.mu.RLock()
	if pk, ok := c.cache[did]; ok {
		c.mu.RUnlock()
		return pk, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do(did, func() (any, error) {
		return c.fetch(ctx, did)
	})
	if err != nil {
		return model.PublicKeys{}, err
	}
	pk := v.(model.PublicKeys)

	c.mu.Lock()
	c.cache[did] = pk
	c.mu.Unlock()
	return pk, nil
}

func (c *DirectoryClient) fetch(ctx context.Context, did string) (model.PublicKeys, error) {
	u := fmt.Sprintf("%s/agents/%s/identity", c.baseURL, url.PathEscape(did))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.PublicKeys{}, fmt.Errorf("directory: build request: %w", err)
	}

	var pk model.PublicKeys
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, apierr.ErrTransient)
		},
	}, func() error {
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: directory request: %v", apierr.ErrTransient, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: agent %q", apierr.ErrNotFound, did)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: directory returned %d", apierr.ErrTransient, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&pk); err != nil {
			return fmt.Errorf("directory: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.PublicKeys{}, err
	}
	return pk, nil
}

// Forget evicts did from the cache, e.g. after a failed decrypt suggests a
// stale cached key.
func (c *DirectoryClient) Forget(did string) {
	c.mu.Lock()
	delete(c.cache, did)
	c.mu.Unlock()
}
