package blocklist

// Stats reports lightweight index metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type Stats struct {
	Entries    int    // names in the current snapshot
	Cached     int    // decisions currently cached
	Hits       uint64 // total cache hits since construction
	Misses     uint64 // total cache misses since construction
	Evictions  uint64 // total evictions since construction
	FilterBits uint   // bloom filter size, zero before the first rebuild
	Key        string // snapshot key, empty before the first rebuild
}
