package blocklist

import (
	"sync"

	"github.com/haukened/adobe-netblock/internal/netblock/common/utils"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// index implements Index by composing an in-memory entry snapshot, a Bloom
// filter (via factory) and a DecisionCache. Reads go bloom → cache → snapshot;
// Rebuild swaps all three atomically.
type index struct {
	mu      sync.RWMutex
	key     string
	sinks   map[string]string
	bloom   BloomFilter
	cache   DecisionCache
	factory BloomFactory
	fpRate  float64
}

// NewIndex constructs an empty Index.
// fpRate is the target false-positive rate for the Bloom filter when rebuilding.
func NewIndex(cache DecisionCache, factory BloomFactory, fpRate float64) Index {
	return &index{cache: cache, factory: factory, fpRate: fpRate, sinks: map[string]string{}}
}

// Decide returns a BlockDecision for the provided name. Names that cannot be
// canonicalized are reported as not blocked.
func (x *index) Decide(name string) domain.BlockDecision {
	cn, err := utils.CanonicalDomain(name)
	if err != nil || cn == "" {
		return domain.EmptyDecision(utils.CanonicalDNSName(name))
	}

	// The read lock spans the cache write so a concurrent Rebuild can never
	// leave a decision from the previous snapshot behind.
	x.mu.RLock()
	defer x.mu.RUnlock()

	// 1) bloom: early-allow if definitively negative
	if x.bloom != nil && !x.bloom.MightContain(cn) {
		return domain.EmptyDecision(cn)
	}
	// 2) cache
	if d, ok := x.cache.Get(cn); ok {
		return d
	}
	// 3) snapshot
	dec := domain.EmptyDecision(cn)
	if ip, ok := x.sinks[cn]; ok {
		dec = domain.BlockDecision{Blocked: true, Domain: cn, Apex: utils.GetApexDomain(cn), IP: ip}
	}
	x.cache.Put(cn, dec)
	return dec
}

// Rebuild replaces the snapshot with entries. Entries are expected to be
// canonical already, as produced by the list parser.
func (x *index) Rebuild(entries []domain.BlockEntry, key string) {
	sinks := make(map[string]string, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		sinks[e.Domain] = e.IP
		names = append(names, e.Domain)
	}
	bf := x.factory.Build(names, x.fpRate)

	x.mu.Lock()
	x.sinks = sinks
	x.bloom = bf
	x.key = key
	x.cache.Purge()
	x.mu.Unlock()
}

// Key returns the key passed to the last Rebuild.
func (x *index) Key() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.key
}

// Stats returns a snapshot of index and cache counters.
func (x *index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	hits, misses, evictions := x.cache.Stats()
	st := Stats{
		Entries:   len(x.sinks),
		Cached:    x.cache.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
		Key:       x.key,
	}
	if x.bloom != nil {
		st.FilterBits = x.bloom.Bits()
	}
	return st
}
