package api

import (
	"sync"

	"github.com/qstation/qstation/internal/config"
	"github.com/qstation/qstation/internal/log"
)

// Cache memoizes one Client per settings fingerprint. A settings change
// invalidates the held client so the next Get rebuilds it (and with it a
// fresh session). The session id itself is private to each client; nothing
// is shared across rebuilds.
type Cache struct {
	mu          sync.Mutex
	fingerprint string
	client      *Client
}

// NewCache returns an empty client cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached client for these settings, constructing one when
// the fingerprint changed or nothing is cached yet.
func (c *Cache) Get(settings config.Settings) (*Client, error) {
	fingerprint := settings.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.fingerprint == fingerprint {
		return c.client, nil
	}

	client, err := NewClient(settings)
	if err != nil {
		return nil, err
	}

	if c.client != nil {
		log.Debug("cache").Msg("settings changed, rebuilding client")
	}
	c.client = client
	c.fingerprint = fingerprint
	return client, nil
}

// Invalidate drops the cached client; the next Get rebuilds.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.client = nil
	c.fingerprint = ""
	c.mu.Unlock()
}
