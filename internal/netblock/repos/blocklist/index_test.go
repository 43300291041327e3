package blocklist_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/bloom"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/lru"
)

func newIndex(t *testing.T, cacheSize int) blocklist.Index {
	t.Helper()
	cache, err := lru.New(cacheSize)
	require.NoError(t, err)
	return blocklist.NewIndex(cache, bloom.NewFactory(), 0.01)
}

func entries(pairs ...string) []domain.BlockEntry {
	out := make([]domain.BlockEntry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.BlockEntry{Domain: pairs[i], IP: pairs[i+1]})
	}
	return out
}

func TestIndex_EmptyAllowsEverything(t *testing.T) {
	idx := newIndex(t, 8)
	d := idx.Decide("lcs-cops.adobe.io")
	assert.False(t, d.Blocked)
	assert.Equal(t, "lcs-cops.adobe.io", d.Domain)
	assert.Equal(t, "", idx.Key())
}

func TestIndex_Decide(t *testing.T) {
	idx := newIndex(t, 8)
	idx.Rebuild(entries("lcs-cops.adobe.io", "0.0.0.0", "xn--bcher-kva.example", "127.0.0.1"), "k1")

	tests := []struct {
		name    string
		in      string
		blocked bool
		domain  string
		apex    string
		ip      string
	}{
		{"exact", "lcs-cops.adobe.io", true, "lcs-cops.adobe.io", "adobe.io", "0.0.0.0"},
		{"case and trailing dot", " LCS-COPS.Adobe.IO. ", true, "lcs-cops.adobe.io", "adobe.io", "0.0.0.0"},
		{"idna", "bücher.example", true, "xn--bcher-kva.example", "xn--bcher-kva.example", "127.0.0.1"},
		{"parent not covered", "adobe.io", false, "adobe.io", "", ""},
		{"child not covered", "x.lcs-cops.adobe.io", false, "x.lcs-cops.adobe.io", "", ""},
		{"empty", "", false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := idx.Decide(tt.in)
			assert.Equal(t, tt.blocked, d.Blocked)
			assert.Equal(t, tt.domain, d.Domain)
			assert.Equal(t, tt.apex, d.Apex)
			assert.Equal(t, tt.ip, d.IP)
		})
	}
}

func TestIndex_CacheHitsAndRebuildPurges(t *testing.T) {
	idx := newIndex(t, 8)
	assert.Zero(t, idx.Stats().FilterBits)
	idx.Rebuild(entries("a.adobe.io", "0.0.0.0"), "k1")

	require.True(t, idx.Decide("a.adobe.io").Blocked)
	require.True(t, idx.Decide("a.adobe.io").Blocked)
	st := idx.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, "k1", st.Key)
	assert.NotZero(t, st.FilterBits)

	idx.Rebuild(entries("b.adobe.io", "0.0.0.0"), "k2")
	assert.Equal(t, "k2", idx.Key())
	assert.Equal(t, 0, idx.Stats().Cached)
	assert.False(t, idx.Decide("a.adobe.io").Blocked, "stale decision survived rebuild")
	assert.True(t, idx.Decide("b.adobe.io").Blocked)
}

func TestIndex_DisabledCache(t *testing.T) {
	idx := newIndex(t, 0)
	idx.Rebuild(entries("a.adobe.io", "0.0.0.0"), "k")
	assert.True(t, idx.Decide("a.adobe.io").Blocked)
	assert.True(t, idx.Decide("a.adobe.io").Blocked)
	assert.Equal(t, uint64(0), idx.Stats().Hits)
}

func TestIndex_ConcurrentDecideAndRebuild(t *testing.T) {
	idx := newIndex(t, 64)
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = idx.Decide(fmt.Sprintf("h%d.adobe.io", i%20))
			}
		}()
	}
	for i := 0; i < 20; i++ {
		idx.Rebuild(entries(fmt.Sprintf("h%d.adobe.io", i), "0.0.0.0"), fmt.Sprint(i))
	}
	wg.Wait()

	assert.True(t, idx.Decide("h19.adobe.io").Blocked)
	assert.False(t, idx.Decide("h0.adobe.io").Blocked)
}
