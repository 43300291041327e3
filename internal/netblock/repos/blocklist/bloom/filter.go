package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist"
)

// defaultFPRate applies when the configured rate is outside (0, 1).
const defaultFPRate = 0.01

// nameFilter is a Bloom filter over canonical domain names. It is filled at
// construction and never written afterwards, so lookups take no lock.
type nameFilter struct {
	bf *bitsbloom.BloomFilter
}

func (f nameFilter) MightContain(name string) bool { return f.bf.TestString(name) }

func (f nameFilter) Bits() uint { return f.bf.Cap() }

type factory struct{}

// NewFactory returns a BloomFactory backed by bits-and-blooms filters.
func NewFactory() blocklist.BloomFactory { return factory{} }

// Build sizes a filter for names at fpRate and adds every name to it.
func (factory) Build(names []string, fpRate float64) blocklist.BloomFilter {
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = defaultFPRate
	}
	n := uint(len(names))
	if n == 0 {
		n = 1
	}
	bf := bitsbloom.NewWithEstimates(n, fpRate)
	for _, name := range names {
		bf.AddString(name)
	}
	return nameFilter{bf: bf}
}
