package webcache

import (
	"net/url"
	"strings"
)

const (
	cachedPrefix = "cached:"
	countPrefix  = "count:"
)

// NormalizeURL trims surrounding whitespace and every trailing slash, so
// "http://x/" and "http://x" share a cache slot and a counter.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func CacheKey(normalized string) string {
	return cachedPrefix + normalized
}

func CountKey(normalized string) string {
	return countPrefix + normalized
}

// hostLabel returns the lower-cased host for metric labels.
func hostLabel(normalized string) string {
	parsed, err := url.Parse(normalized)
	if err != nil || parsed.Host == "" {
		return "invalid"
	}
	return strings.ToLower(parsed.Host)
}
