package tenant

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxIdentifierLength is the PostgreSQL limit for database and role names.
const MaxIdentifierLength = 63

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)
	nonIDRunes     = regexp.MustCompile(`[^a-z0-9]+`)
	defaultIDStem  = "clinic"
	accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// BuildDatabaseName returns <prefix><id>.
func BuildDatabaseName(prefix, id string) string {
	return strings.TrimSpace(prefix) + id
}

// ValidID reports whether id is a well-formed tenant key.
func ValidID(id string) bool {
	return len(id) <= MaxIdentifierLength && idPattern.MatchString(id)
}

// IDFromName derives the base tenant key from a display name: accents folded,
// lowercased, runs of other characters collapsed into a single underscore.
func IDFromName(name string) string {
	folded, _, err := transform.String(accentStripper, name)
	if err != nil {
		folded = name
	}
	id := nonIDRunes.ReplaceAllString(strings.ToLower(folded), "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return defaultIDStem
	}
	if len(id) > 40 {
		id = strings.TrimRight(id[:40], "_")
	}
	return id
}

// CandidateID returns the n-th candidate for base: base, base_2, base_3, ...
func CandidateID(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "_" + strconv.Itoa(n)
}

// NormalizeHost lowercases a request host and strips the port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.ToLower(host)
}
