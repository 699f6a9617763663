package routing

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/tasky-app/tasky-offline/internal/config"
)

// Disposition is the strategy classification assigned to a GET request.
type Disposition string

const (
	DispositionNetworkFirst         Disposition = "network-first"
	DispositionCacheFirst           Disposition = "cache-first"
	DispositionStaleWhileRevalidate Disposition = "stale-while-revalidate"
)

// Tables holds the compiled, ordered rule sets. Built once from config and
// immutable afterwards; every request shares the same instance.
type Tables struct {
	networkFirst     []*regexp.Regexp
	cacheFirst       []*regexp.Regexp
	crossOriginAllow []*regexp.Regexp
}

// NewTables compiles the raw rule patterns. A single invalid pattern fails
// the whole build so a broken table never classifies silently.
func NewTables(rules *config.Rules) (*Tables, error) {
	if rules == nil {
		rules = config.DefaultRules()
	}

	networkFirst, err := compileAll("network_first", rules.NetworkFirst)
	if err != nil {
		return nil, err
	}
	cacheFirst, err := compileAll("cache_first", rules.CacheFirst)
	if err != nil {
		return nil, err
	}
	crossOriginAllow, err := compileAll("cross_origin_allow", rules.CrossOriginAllow)
	if err != nil {
		return nil, err
	}

	return &Tables{
		networkFirst:     networkFirst,
		cacheFirst:       cacheFirst,
		crossOriginAllow: crossOriginAllow,
	}, nil
}

func compileAll(table string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", table, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Classifier maps an outbound GET request to a disposition. Pure and
// deterministic; callers must filter out non-GET requests before invoking it.
type Classifier struct {
	tables *Tables
}

// NewClassifier wraps the compiled tables.
func NewClassifier(tables *Tables) *Classifier {
	return &Classifier{tables: tables}
}

// Classify tests the URL against the network-first rules, then the
// cache-first rules; navigations fall through to stale-while-revalidate and
// everything else defaults to network-first. Network-first wins even when a
// URL also matches a cache-first pattern: freshness of auth-sensitive data
// outranks asset-caching convenience.
func (c *Classifier) Classify(u *url.URL, navigation bool) Disposition {
	href := u.String()
	if matchAny(c.tables.networkFirst, href) {
		return DispositionNetworkFirst
	}
	if matchAny(c.tables.cacheFirst, href) {
		return DispositionCacheFirst
	}
	if navigation {
		return DispositionStaleWhileRevalidate
	}
	return DispositionNetworkFirst
}

func matchAny(rules []*regexp.Regexp, href string) bool {
	for _, re := range rules {
		if re.MatchString(href) {
			return true
		}
	}
	return false
}
