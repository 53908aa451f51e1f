package gcal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// CredentialCache memoizes token sources per calendar id for a fixed TTL.
// Concurrent misses for the same id share one load.
type CredentialCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]credentialEntry
	group   singleflight.Group
}

type credentialEntry struct {
	source  oauth2.TokenSource
	expires time.Time
}

func NewCredentialCache(ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]credentialEntry),
	}
}

// Get returns the cached token source for key or loads a new one.
func (c *CredentialCache) Get(ctx context.Context, key string, load func(ctx context.Context) (oauth2.TokenSource, error)) (oauth2.TokenSource, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.source, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		source, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = credentialEntry{source: source, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return source, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", key, err)
	}
	return v.(oauth2.TokenSource), nil
}

// Invalidate drops the cached entry for key.
func (c *CredentialCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
