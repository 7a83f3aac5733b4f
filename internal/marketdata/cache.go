package marketdata

import (
	"sync"
	"time"

	"github.com/aristath/marketsim/internal/domain"
)

// ttlCache is the per-ticker cache consulted first in realtime mode
// (§4.2). Historical and day-advance paths bypass it entirely.
type ttlCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ttlEntry
	nowFn   func() time.Time
}

type ttlEntry struct {
	ticker    domain.Ticker
	expiresAt time.Time
}

const defaultCacheTTL = 60 * time.Second

func newTTLCache(ttl time.Duration) *ttlCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ttlCache{
		ttl:     ttl,
		entries: make(map[string]ttlEntry),
		nowFn:   time.Now,
	}
}

func (c *ttlCache) Get(symbol string) (domain.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || c.nowFn().After(e.expiresAt) {
		return domain.Ticker{}, false
	}
	return e.ticker, true
}

func (c *ttlCache) Set(symbol string, t domain.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = ttlEntry{ticker: t, expiresAt: c.nowFn().Add(c.ttl)}
}

// Snapshot returns every still-valid entry, used to warm-start a process
// restart from the msgpack-encoded cache dump (see persistwarm.go).
func (c *ttlCache) Snapshot() map[string]domain.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.nowFn()
	out := make(map[string]domain.Ticker, len(c.entries))
	for symbol, e := range c.entries {
		if now.Before(e.expiresAt) {
			out[symbol] = e.ticker
		}
	}
	return out
}

func (c *ttlCache) Load(entries map[string]domain.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	for symbol, t := range entries {
		c.entries[symbol] = ttlEntry{ticker: t, expiresAt: now.Add(c.ttl)}
	}
}
