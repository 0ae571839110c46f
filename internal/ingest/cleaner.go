package ingest

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Cleaner strips markup and normalizes whitespace in feed text.
type Cleaner struct {
	policy *bluemonday.Policy
}

// NewCleaner creates a Cleaner with a strip-everything policy. Feed
// descriptions routinely embed anchor tags, images and tracking pixels;
// none of it belongs in embedded text.
func NewCleaner() *Cleaner {
	return &Cleaner{policy: bluemonday.StrictPolicy()}
}

// Clean removes all HTML, decodes entities and collapses runs of
// whitespace into single spaces.
func (c *Cleaner) Clean(s string) string {
	stripped := c.policy.Sanitize(s)
	decoded := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(decoded), " ")
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
