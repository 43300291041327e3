package updater

import (
	"context"
	"time"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/hosts"
	"github.com/haukened/adobe-netblock/internal/netblock/repos/lock"
)

// Registry resolves which mirrors to try and in what order.
type Registry interface {
	List() []domain.MirrorSource
	Lookup(id domain.SourceID) (domain.MirrorSource, bool)
	Order(preferred domain.SourceID) []domain.MirrorSource
	URL(s domain.MirrorSource) string
}

// Fetcher downloads the raw list, falling back across sources.
type Fetcher interface {
	FetchWithFallback(ctx context.Context, sources []domain.MirrorSource, timeout time.Duration) (string, domain.SourceID, error)
}

// HostsStore reads and atomically rewrites the hosts file.
type HostsStore interface {
	Read() (domain.HostsDocument, error)
	Diff(doc domain.HostsDocument, list domain.BlockList) hosts.Diff
	WouldChange(doc domain.HostsDocument, list domain.BlockList) bool
	Write(doc domain.HostsDocument, list domain.BlockList) (bool, error)
	Strip(doc domain.HostsDocument) (bool, error)
}

// Evaluator derives status and block decisions from a hosts document.
type Evaluator interface {
	Evaluate(doc domain.HostsDocument) domain.BlockStatus
	Check(doc domain.HostsDocument, name string) domain.BlockDecision
}

// Locker serializes mutating operations across processes.
type Locker interface {
	Acquire(op string) (*lock.Lock, error)
}

// Metrics records operation outcomes.
type Metrics interface {
	ObserveUpdate(op string, res domain.UpdateResult, at time.Time)
	ObserveStatus(st domain.BlockStatus)
}
