// Package keycodec encodes and decodes the composite artifact key
// {domain}/{title}/{timestamp}.{ext} used as the blob storage object name.
// The extension-substitution pairing between an HTML object and its
// screenshot lives here so the pseudo-join is a single, testable function
// rather than scattered string replacement.
package keycodec

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

// TimestampLayout is the ISO-8601 instant with microsecond fraction that
// uniquely identifies a capture within a page's key space.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Artifact extensions making up a capture triple.
const (
	ExtHTML = ".html"
	ExtCSS  = ".css"
	ExtPNG  = ".png"
)

var (
	disallowed = regexp.MustCompile(`[^\w\s.-]`)
	domainPat  = regexp.MustCompile(`^(?:https?://)?((?:www\.)?[^/\s?#]+)`)
)

// Sanitize strips any character outside word, whitespace, dot, and hyphen,
// replacing each disallowed character with a single space, so the result is
// safe as a storage path segment. Sanitizing is idempotent.
func Sanitize(s string) string {
	return disallowed.ReplaceAllString(s, " ")
}

// ParseDomain extracts the host (keeping a leading www. if present) from a
// URL string, tolerating a missing scheme. The second return is false when
// no host-like substring can be found; callers treat that as "skip this
// capture", not as a fatal error.
func ParseDomain(rawURL string) (string, bool) {
	m := domainPat.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	host := m[1]
	// A bare word with no dot is not host-like.
	if !strings.Contains(host, ".") {
		return "", false
	}
	return host, true
}

// BuildKey assembles the object key for one artifact of a capture. Domain
// and title pass through the sanitizer; the timestamp is rendered in UTC.
func BuildKey(domain, title string, ts time.Time, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s",
		Sanitize(domain),
		Sanitize(title),
		FormatTimestamp(ts),
		ext,
	)
}

// FormatTimestamp renders a capture instant in the key timestamp layout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a key timestamp fragment. Failures wrap
// ErrMalformedTimestamp so display code can fall back instead of aborting
// the whole history view.
func ParseTimestamp(fragment string) (time.Time, error) {
	ts, err := time.Parse(TimestampLayout, fragment)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", archive.ErrMalformedTimestamp, fragment)
	}
	return ts, nil
}

// SiblingKey derives the key of another artifact in the same capture by
// extension substitution. This is the only join between an HTML object and
// its screenshot; no independent lookup exists.
func SiblingKey(key, ext string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + ext
}

// Key is the decoded form of an artifact object key.
type Key struct {
	Domain    string
	Title     string
	Timestamp time.Time
	Ext       string
}

// ParseKey decodes an object key into its segments. The timestamp segment
// failing to parse wraps ErrMalformedTimestamp.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed key %q: want domain/title/timestamp.ext", key)
	}
	ext := path.Ext(parts[2])
	ts, err := ParseTimestamp(strings.TrimSuffix(parts[2], ext))
	if err != nil {
		return Key{}, err
	}
	return Key{
		Domain:    parts[0],
		Title:     parts[1],
		Timestamp: ts,
		Ext:       ext,
	}, nil
}

// PagePrefix returns the domain/title prefix shared by every artifact of
// the same logical page, used to group fragment-search matches. The second
// return is false when the key does not carry both segments.
func PagePrefix(key string) (string, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}
