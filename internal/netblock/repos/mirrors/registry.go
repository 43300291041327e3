package mirrors

import (
	"sort"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// DefaultUpstream is the repository every built-in mirror serves.
var DefaultUpstream = domain.Upstream{
	Owner: "ignaciocastro",
	Repo:  "a-dove-is-dumb",
	Ref:   "main",
	Path:  "list.txt",
}

// DefaultSources is the built-in mirror catalog in fallback order.
var DefaultSources = []domain.MirrorSource{
	{
		ID:          domain.SourceOriginal,
		Label:       "Original",
		URLTemplate: "https://raw.githubusercontent.com/{owner}/{repo}/{ref}/{path}",
		Priority:    0,
	},
	{
		ID:          domain.SourceFastly,
		Label:       "Fastly Mirror",
		URLTemplate: "https://fastly.jsdelivr.net/gh/{owner}/{repo}@{ref}/{path}",
		Priority:    10,
	},
	{
		ID:          domain.SourceGcore,
		Label:       "Gcore Mirror",
		URLTemplate: "https://gcore.jsdelivr.net/gh/{owner}/{repo}@{ref}/{path}",
		Priority:    20,
	},
	{
		ID:          domain.SourceQuantil,
		Label:       "Quantil Mirror",
		URLTemplate: "https://quantil.jsdelivr.net/gh/{owner}/{repo}@{ref}/{path}",
		Priority:    30,
	},
	{
		ID:          domain.SourceGhproxy,
		Label:       "Ghproxy",
		URLTemplate: "https://ghproxy.net/https://raw.githubusercontent.com/{owner}/{repo}/{ref}/{path}",
		Priority:    40,
	},
}

// Registry is the immutable, ordered catalog of mirrors.
type Registry struct {
	sources  []domain.MirrorSource
	upstream domain.Upstream
	logger   log.Logger
}

// Options configures a Registry. Zero values select the built-in catalog.
type Options struct {
	Sources  []domain.MirrorSource
	Upstream domain.Upstream
	Logger   log.Logger
}

// New builds a Registry. Sources are sorted by priority (stable on ties) and
// later duplicates of an ID are dropped.
func New(opts Options) *Registry {
	src := opts.Sources
	if len(src) == 0 {
		src = DefaultSources
	}
	sorted := make([]domain.MirrorSource, len(src))
	copy(sorted, src)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	seen := make(map[domain.SourceID]struct{}, len(sorted))
	out := sorted[:0]
	for _, s := range sorted {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}

	up := opts.Upstream
	if up == (domain.Upstream{}) {
		up = DefaultUpstream
	}
	return &Registry{sources: out, upstream: up, logger: log.OrNoop(opts.Logger)}
}

// List returns the sources in fallback order. The slice is a copy.
func (r *Registry) List() []domain.MirrorSource {
	out := make([]domain.MirrorSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Lookup finds a source by ID.
func (r *Registry) Lookup(id domain.SourceID) (domain.MirrorSource, bool) {
	for _, s := range r.sources {
		if s.ID == id {
			return s, true
		}
	}
	return domain.MirrorSource{}, false
}

// Upstream returns the repository coordinates used to expand URL templates.
func (r *Registry) Upstream() domain.Upstream { return r.upstream }

// URL returns the concrete fetch URL for a source.
func (r *Registry) URL(s domain.MirrorSource) string { return s.URL(r.upstream) }

// Order resolves the fetch order: the preferred source first when it is known,
// then the remaining sources in registry order. An empty preferred ID yields
// plain registry order.
func (r *Registry) Order(preferred domain.SourceID) []domain.MirrorSource {
	if preferred == "" {
		return r.List()
	}
	first, ok := r.Lookup(preferred)
	if !ok {
		r.logger.Warn(map[string]any{"source": preferred.String()}, "registry_unknown_preferred_source")
		return r.List()
	}
	out := make([]domain.MirrorSource, 0, len(r.sources))
	out = append(out, first)
	for _, s := range r.sources {
		if s.ID != preferred {
			out = append(out, s)
		}
	}
	return out
}
