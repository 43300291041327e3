package blocklist

import "github.com/haukened/adobe-netblock/internal/netblock/domain"

// BloomFilter is a read-only membership filter over canonical names.
// MightContain never returns false for a name the filter was built from.
type BloomFilter interface {
	MightContain(name string) bool
	Bits() uint
}

// BloomFactory builds a filter holding names at a target false-positive rate.
type BloomFactory interface {
	Build(names []string, fpRate float64) BloomFilter
}

// DecisionCache caches block decisions by canonical name with basic metrics.
type DecisionCache interface {
	Get(name string) (domain.BlockDecision, bool)
	Put(name string, d domain.BlockDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Index answers whether a name is sunk by the managed block.
// Decide returns a value-type BlockDecision for any input name.
// Rebuild swaps in a new entry snapshot identified by key and clears the cache.
type Index interface {
	Decide(name string) domain.BlockDecision
	Rebuild(entries []domain.BlockEntry, key string)
	Key() string
	Stats() Stats
}
