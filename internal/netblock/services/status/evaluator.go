package status

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/blocklist/parsers"
)

// Evaluator derives blocking state from a hosts document. It never touches
// the network or the filesystem.
type Evaluator struct {
	index  blocklist.Index
	parse  parsers.Options
	logger log.Logger
}

// Options configures an Evaluator.
type Options struct {
	// Index answers Check queries; it is rebuilt whenever the block changes.
	Index  blocklist.Index
	Parse  parsers.Options
	Logger log.Logger
}

// New constructs an Evaluator.
func New(opts Options) *Evaluator {
	logger := log.OrNoop(opts.Logger)
	parse := opts.Parse
	if parse.Logger == nil {
		parse.Logger = logger
	}
	return &Evaluator{index: opts.Index, parse: parse, logger: logger}
}

// Evaluate reports whether a managed block with at least one entry exists.
// HostsUpdatedAt is the file's modification time, set only when a block is
// present.
func (e *Evaluator) Evaluate(doc domain.HostsDocument) domain.BlockStatus {
	if !doc.HasBlock() {
		return domain.BlockStatus{}
	}
	entries, updated := parsers.ParseEntries(doc.BlockLines(), e.parse)
	st := domain.BlockStatus{
		IsBlocked:     len(entries) > 0,
		EntryCount:    len(entries),
		SourceUpdated: updated,
	}
	if !doc.ModTime.IsZero() {
		mt := doc.ModTime
		st.HostsUpdatedAt = &mt
	}
	return st
}

// Check answers whether name is sunk by the managed block in doc. The index
// is rebuilt only when the block content or the file's mod time changed.
func (e *Evaluator) Check(doc domain.HostsDocument, name string) domain.BlockDecision {
	key := snapshotKey(doc)
	if e.index.Key() != key {
		entries, _ := parsers.ParseEntries(doc.BlockLines(), e.parse)
		e.index.Rebuild(entries, key)
		e.logger.Debug(map[string]any{"entries": len(entries)}, "status_index_rebuilt")
	}
	return e.index.Decide(name)
}

// snapshotKey identifies the managed block of doc.
func snapshotKey(doc domain.HostsDocument) string {
	h := sha256.New()
	for _, l := range doc.BlockLines() {
		h.Write([]byte(l))
	}
	return strconv.FormatInt(doc.ModTime.UnixNano(), 36) + ":" + hex.EncodeToString(h.Sum(nil))
}
