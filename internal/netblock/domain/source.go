package domain

import (
	"fmt"
	"strings"
)

// SourceID identifies one mirror of the upstream block list.
type SourceID string

const (
	SourceOriginal SourceID = "original"
	SourceFastly   SourceID = "fastly"
	SourceGcore    SourceID = "gcore"
	SourceQuantil  SourceID = "quantil"
	SourceGhproxy  SourceID = "ghproxy"
)

// KnownSourceIDs lists every SourceID the registry can serve, in default priority order.
var KnownSourceIDs = []SourceID{SourceOriginal, SourceFastly, SourceGcore, SourceQuantil, SourceGhproxy}

// ParseSourceID converts user input into a SourceID.
// Accepts the canonical ids case-insensitively. An empty string yields the empty
// SourceID, meaning "no preference".
func ParseSourceID(s string) (SourceID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	for _, id := range KnownSourceIDs {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// IsKnown reports whether id names one of the built-in mirrors.
func (id SourceID) IsKnown() bool {
	for _, k := range KnownSourceIDs {
		if k == id {
			return true
		}
	}
	return false
}

func (id SourceID) String() string { return string(id) }

// Upstream names the repository file every mirror serves.
type Upstream struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// MirrorSource is one network location serving the upstream block list.
//
// Notes:
// - URLTemplate may contain {owner}, {repo}, {ref} and {path} placeholders.
// - Priority defines fallback order; lower values are tried first.
type MirrorSource struct {
	ID          SourceID
	Label       string
	URLTemplate string
	Priority    int
}

// URL expands the template for the given upstream coordinates.
func (m MirrorSource) URL(u Upstream) string {
	r := strings.NewReplacer(
		"{owner}", u.Owner,
		"{repo}", u.Repo,
		"{ref}", u.Ref,
		"{path}", strings.TrimPrefix(u.Path, "/"),
	)
	return r.Replace(m.URLTemplate)
}
