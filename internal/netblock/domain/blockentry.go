package domain

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// DefaultSink is the address blocked names resolve to when a list line carries none.
const DefaultSink = "0.0.0.0"

// BlockEntry maps one domain to the sink address the resolver should return for it.
//
// Notes:
// - Domain is expected to be canonical: lowercase, ASCII (IDNA) form, no trailing dot.
// - IP is the sink address written into the hosts file.
type BlockEntry struct {
	Domain string
	IP     string
}

// NewBlockEntry constructs a BlockEntry and validates its fields.
func NewBlockEntry(name, ip string) (BlockEntry, error) {
	e := BlockEntry{
		Domain: strings.TrimSpace(name),
		IP:     strings.TrimSpace(ip),
	}
	if err := e.Validate(); err != nil {
		return BlockEntry{}, err
	}
	return e, nil
}

// Validate checks the entry for required fields and a parseable sink address.
func (e BlockEntry) Validate() error {
	if e.Domain == "" {
		return fmt.Errorf("entry domain must not be empty")
	}
	if strings.ContainsAny(e.Domain, "* \t") {
		return fmt.Errorf("entry domain %q contains invalid characters", e.Domain)
	}
	if _, err := netip.ParseAddr(e.IP); err != nil {
		return fmt.Errorf("entry sink %q is not an IP address", e.IP)
	}
	return nil
}

// HostsLine renders the entry in hosts file syntax, without a line terminator.
func (e BlockEntry) HostsLine() string {
	return e.IP + " " + e.Domain
}

// BlockList is the normalized result of one successful fetch and parse.
// It is never mutated after construction.
type BlockList struct {
	Entries       []BlockEntry
	SourceID      SourceID
	FetchedAt     time.Time
	SourceUpdated string // upstream "Last update" header text, empty when absent
}

// Len returns the number of entries.
func (l BlockList) Len() int { return len(l.Entries) }

// Domains returns the entry domains in list order.
func (l BlockList) Domains() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Domain
	}
	return out
}

// BlockDecision is the answer to "is this name sunk by the managed block".
// Pure value type, no external dependencies.
type BlockDecision struct {
	Blocked bool   `json:"blocked" yaml:"blocked"`
	Domain  string `json:"domain" yaml:"domain"`
	Apex    string `json:"apex,omitempty" yaml:"apex,omitempty"`
	IP      string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// EmptyDecision returns a not-blocked decision for name.
func EmptyDecision(name string) BlockDecision { return BlockDecision{Domain: name} }
