package shipping

import (
	"sync"
	"time"
)

// tokenCache holds the carrier bearer token until it expires.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func newTokenCache(ttl time.Duration) *tokenCache {
	return &tokenCache{ttl: ttl, now: time.Now}
}

func (c *tokenCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = c.now().Add(c.ttl)
}

// invalidate drops token only if it is still the cached one.
func (c *tokenCache) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
