package utils

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// CanonicalDNSName returns a DNS name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot; hosts files never carry one.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// CanonicalDomain canonicalizes name and converts internationalized labels to
// their ASCII (punycode) form, which is what resolvers read from the hosts file.
// Pure ASCII names are returned as-is after canonicalization.
func CanonicalDomain(name string) (string, error) {
	name = CanonicalDNSName(name)
	if isASCII(name) {
		return name, nil
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", err
	}
	return CanonicalDNSName(ascii), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
