package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist"
)

// newLRU is a seam for tests.
var newLRU = func(size int, onEvict func(string, domain.BlockDecision)) (*lru.Cache[string, domain.BlockDecision], error) {
	return lru.NewWithEvict(size, onEvict)
}

// decisionCache is an LRU-backed implementation of blocklist.DecisionCache.
// It tracks basic metrics: hits, misses, and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.BlockDecision]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// New creates a DecisionCache holding up to size decisions. If size <= 0 a
// disabled cache is returned that always misses and tracks no metrics.
func New(size int) (blocklist.DecisionCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}

	dc := &decisionCache{}
	// NewWithEvict observes evictions, including those caused by Purge.
	cache, err := newLRU(size, func(string, domain.BlockDecision) {
		dc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return dc, nil
}

// Get looks up a decision by canonical name, counting hits and misses.
func (c *decisionCache) Get(name string) (domain.BlockDecision, bool) {
	if val, ok := c.lru.Get(name); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.BlockDecision{}, false
}

// Put stores a decision by canonical name.
func (c *decisionCache) Put(name string, d domain.BlockDecision) {
	c.lru.Add(name, d)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

func (c *decisionCache) Purge() { c.lru.Purge() }

// Stats returns cumulative hit/miss/eviction counters.
func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (disabledCache) Get(string) (domain.BlockDecision, bool) { return domain.BlockDecision{}, false }

func (disabledCache) Put(string, domain.BlockDecision) {}

func (disabledCache) Len() int { return 0 }

func (disabledCache) Purge() {}

func (disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var (
	_ blocklist.DecisionCache = (*decisionCache)(nil)
	_ blocklist.DecisionCache = disabledCache{}
)
