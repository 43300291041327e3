package parsers

import (
	"strings"
	"unicode"

	"github.com/miekg/dns"
)

// lastUpdateLabel marks the upstream header line carrying the list's publish date.
const lastUpdateLabel = "Last update:"

// headerScanLines bounds how far into a list the header is searched for.
const headerScanLines = 20

// selfNames are hostnames every OS maps itself; sinking them would break the machine.
var selfNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

// stripLineBOM removes a UTF-8 byte order mark at the start of a line.
func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether a raw line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#")
}

// stripInlineComment drops everything from the first '#'.
func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// headerValue returns the text after "Last update:" when line is that header.
func headerValue(line string) (string, bool) {
	idx := strings.Index(line, lastUpdateLabel)
	if idx < 0 {
		return "", false
	}
	if _, isComment := classifyLine(line); !isComment {
		return "", false
	}
	v := strings.TrimSpace(line[idx+len(lastUpdateLabel):])
	v = strings.TrimSpace(strings.Trim(v, "#"))
	return v, true
}

// isValidFQDN checks whether the provided string is a valid hostname for a hosts file.
// It enforces the following rules:
//   - The total length must not exceed 253 characters.
//   - The name must contain at least two labels (separated by dots).
//   - Each label must be between 1 and 63 characters long.
//   - The first label must start with a letter or number.
//   - The name must pass the DNS presentation-format check.
func isValidFQDN(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
	}
	runes := []rune(labels[0])
	if !isAlphaNumeric(runes[0]) {
		return false
	}
	if strings.ContainsAny(name, "*\\/@:") {
		return false
	}
	_, ok := dns.IsDomainName(name)
	return ok
}

// isAlphaNumeric reports whether the given rune is a letter or digit.
func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isSelfName reports whether name is one of the OS self/loopback aliases.
func isSelfName(name string) bool {
	_, ok := selfNames[name]
	return ok
}
