package crawler

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// NewsSuffix is the path of a department's news index.
const NewsSuffix = "/haberler/"

// CreatePaginatedURL returns the listing URL for one page of a department's news index.
func CreatePaginatedURL(baseURL string, page int) string {
	return fmt.Sprintf("%s%spage:%d", strings.TrimRight(baseURL, "/"), NewsSuffix, page)
}

// ListingURLs returns the un-paginated news index plus pages 1..pagination,
// deduplicated and sorted. A negative pagination is treated as zero.
func ListingURLs(baseURL string, pagination int) []string {
	set := map[string]struct{}{
		strings.TrimRight(baseURL, "/") + NewsSuffix: {},
	}
	for i := 1; i <= pagination; i++ {
		set[CreatePaginatedURL(baseURL, i)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ResolveURL resolves ref against base and drops the fragment.
func ResolveURL(base, ref string) (*url.URL, error) {
	b, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse ref url: %w", err)
	}
	abs := b.ResolveReference(r)
	abs.Fragment = ""
	return abs, nil
}

// SameHost reports whether two URLs share a hostname, ignoring case.
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

// Hostname returns the lowercased host of rawURL, or "unknown".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Extension returns the lowercased file extension of a URL path without the dot.
func Extension(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}
