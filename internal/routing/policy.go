package routing

import (
	"net/url"
	"strings"
)

// Cacheability decides whether a request's response may be persisted at all.
// Pure; the strategies consult it before every cache write.
type Cacheability struct {
	appHost string
	tables  *Tables
}

// NewCacheability binds the policy to the application origin host and the
// cross-origin allow-list.
func NewCacheability(appHost string, tables *Tables) Cacheability {
	return Cacheability{
		appHost: normalizeHostKey(appHost),
		tables:  tables,
	}
}

// Cacheable reports whether the URL's response is allowed into a partition.
// Token/auth-bearing paths are never cacheable regardless of origin;
// allow-listed cross-origin hosts (font/asset CDNs) are; anything else is
// cacheable only when same-origin with the app.
func (p Cacheability) Cacheable(u *url.URL) bool {
	if u == nil {
		return false
	}

	lowerPath := strings.ToLower(u.Path)
	if strings.Contains(lowerPath, "token") || strings.Contains(lowerPath, "auth") {
		return false
	}

	if p.tables != nil && matchAny(p.tables.crossOriginAllow, u.String()) {
		return true
	}

	return normalizeHostKey(u.Host) == p.appHost && p.appHost != ""
}

func normalizeHostKey(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
