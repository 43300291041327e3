package parsers

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	logpkg "github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/common/utils"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// maxLineBytes bounds a single list line; longer lines are dropped.
const maxLineBytes = 64 * 1024

// Options controls how sink addresses are assigned.
type Options struct {
	// DefaultSink is used for plain-domain lines that carry no address.
	// Empty selects domain.DefaultSink.
	DefaultSink string
	// ForceSink, when set, replaces every entry's address.
	ForceSink string
	Logger    logpkg.Logger
}

func (o Options) defaultSink() string {
	if o.DefaultSink == "" {
		return domain.DefaultSink
	}
	return o.DefaultSink
}

// collector accumulates entries, keeping first-seen order and last-seen sink.
type collector struct {
	opts  Options
	log   logpkg.Logger
	index map[string]int
	out   []domain.BlockEntry
}

func newCollector(opts Options) *collector {
	return &collector{
		opts:  opts,
		log:   logpkg.OrNoop(opts.Logger),
		index: make(map[string]int),
		out:   make([]domain.BlockEntry, 0, 256),
	}
}

// Parse reads an upstream block list and returns a BlockList attributed to source.
//
// Rules:
// - Skip blank lines and comments (whole-line or inline after '#')
// - Recognize hosts directives "<ip> <host> [host...]" and plain "<host>" lines
// - Skip anything else silently, along with wildcards, leading dots and OS self names
// - Normalize via CanonicalDomain; validate with isValidFQDN
// - De-duplicate by domain, preserving first-seen order and keeping the last-seen sink
// - Zero resulting entries is a MalformedSourceError, never an empty list
func Parse(r io.Reader, source domain.SourceID, now time.Time, opts Options) (domain.BlockList, error) {
	c := newCollector(opts)
	br := bufio.NewReaderSize(r, maxLineBytes)

	c.log.Debug(map[string]any{"source": source.String()}, "parse_list_start")

	var updated string
	lineNum := 0
	for {
		chunk, long, err := br.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.log.Debug(map[string]any{"source": source.String(), "error": err}, "parse_list_read_error")
			return domain.BlockList{}, domain.NewError(domain.ErrKindMalformedSource, "parse", err)
		}
		lineNum++
		if long {
			if err := skipRest(br); err != nil && err != io.EOF {
				return domain.BlockList{}, domain.NewError(domain.ErrKindMalformedSource, "parse", err)
			}
			c.log.Debug(map[string]any{"source": source.String(), "line": lineNum}, "list_skip_long_line")
			continue
		}
		line := string(chunk)
		if lineNum == 1 {
			line = stripLineBOM(line)
		}
		if lineNum <= headerScanLines && updated == "" {
			if v, ok := headerValue(line); ok {
				updated = v
				continue
			}
		}
		c.line(lineNum, line)
	}

	if len(c.out) == 0 {
		return domain.BlockList{}, domain.NewError(domain.ErrKindMalformedSource, "parse",
			fmt.Errorf("no block entries in %d lines", lineNum))
	}

	c.log.Debug(map[string]any{"source": source.String(), "count": len(c.out)}, "parse_list_done")
	return domain.BlockList{
		Entries:       c.out,
		SourceID:      source,
		FetchedAt:     now,
		SourceUpdated: updated,
	}, nil
}

// skipRest discards the remainder of a line longer than the read buffer.
func skipRest(br *bufio.Reader) error {
	for {
		_, more, err := br.ReadLine()
		if err != nil || !more {
			return err
		}
	}
}

// ParseEntries applies the line rules to already-split lines and returns the
// entries and the "Last update" header value, if any. No minimum entry count
// is enforced; callers reading their own managed block decide what empty means.
func ParseEntries(lines []string, opts Options) ([]domain.BlockEntry, string) {
	c := newCollector(opts)
	var updated string
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		if updated == "" {
			if v, ok := headerValue(line); ok {
				updated = v
				continue
			}
		}
		c.line(i+1, line)
	}
	return c.out, updated
}

// line handles one raw list line.
func (c *collector) line(lineNum int, line string) {
	if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
		return
	}

	fields := strings.Fields(stripInlineComment(line))
	switch len(fields) {
	case 0:
		return
	case 1:
		if _, err := netip.ParseAddr(fields[0]); err == nil {
			c.log.Debug(map[string]any{"line": lineNum}, "list_no_hostnames")
			return
		}
		c.emit(lineNum, fields[0], c.opts.defaultSink())
	default:
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			c.log.Debug(map[string]any{"line": lineNum, "raw": fields[0]}, "list_skip_unrecognized")
			return
		}
		for _, raw := range fields[1:] {
			c.emit(lineNum, raw, addr.String())
		}
	}
}

// emit validates one host token and records it.
func (c *collector) emit(lineNum int, raw, sink string) {
	if raw == "" || strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
		c.log.Debug(map[string]any{"line": lineNum, "raw": raw}, "list_skip_invalid_token")
		return
	}

	name, err := utils.CanonicalDomain(raw)
	if err != nil || !isValidFQDN(name) {
		c.log.Debug(map[string]any{"line": lineNum, "raw": raw}, "list_skip_invalid_fqdn")
		return
	}
	if isSelfName(name) {
		c.log.Debug(map[string]any{"line": lineNum, "name": name}, "list_skip_self_name")
		return
	}

	if c.opts.ForceSink != "" {
		sink = c.opts.ForceSink
	}
	entry, err := domain.NewBlockEntry(name, sink)
	if err != nil {
		c.log.Debug(map[string]any{"line": lineNum, "name": name, "error": err}, "list_skip_constructor_error")
		return
	}

	if idx, ok := c.index[name]; ok {
		c.out[idx].IP = entry.IP
		c.log.Debug(map[string]any{"line": lineNum, "name": name}, "list_duplicate_sink_updated")
		return
	}
	c.index[name] = len(c.out)
	c.out = append(c.out, entry)
}

// SourceUpdated returns the "Last update" header value from the first lines
// of raw, or "" when the list carries none.
func SourceUpdated(raw string) string {
	for i, line := range strings.SplitN(raw, "\n", headerScanLines+1) {
		if i >= headerScanLines {
			break
		}
		if i == 0 {
			line = stripLineBOM(line)
		}
		if v, ok := headerValue(strings.TrimRight(line, "\r")); ok {
			return v
		}
	}
	return ""
}
