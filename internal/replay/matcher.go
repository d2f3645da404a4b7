package replay

import (
	"net/url"
	"strings"
)

// MatchAPI resolves a live request against recorded entries. Pure function,
// no I/O. The fallback ladder tries (method, body), (method, ""), ("GET",
// ""), ("GET", body) in that order, so an exact method+URL+body match always
// beats looser matches and GET-with-empty-body entries act as a catch-all
// for asset-like fetches. Returns the first matching record, or false.
func MatchAPI(records []ApiRecord, method, rawURL, body, baseURL string) (*ApiRecord, bool) {
	variants := urlVariants(rawURL, baseURL)
	if len(variants) == 0 {
		return nil, false
	}

	ladder := []struct {
		method string
		body   string
	}{
		{method, body},
		{method, ""},
		{"GET", ""},
		{"GET", body},
	}

	for _, step := range ladder {
		for i := range records {
			rec := &records[i]
			if !strings.EqualFold(rec.Method, step.method) {
				continue
			}
			if !variantsOverlap(variants, urlVariants(rec.URL, baseURL)) {
				continue
			}
			if step.body != "" && rec.recordedRequestBody() != step.body {
				continue
			}
			return rec, true
		}
	}
	return nil, false
}

// urlVariants computes the bounded variant set for a URL: the raw string,
// fragment-stripped and trailing-slash-stripped forms, the absolute URL
// resolved against base with its own stripped forms, the path+query form,
// and the bare pathname. Order is stable; duplicates are removed.
func urlVariants(raw, base string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	add(raw)
	add(stripFragment(raw))
	add(stripTrailingSlash(stripFragment(raw)))

	abs := resolveAbsolute(raw, base)
	if abs != "" {
		add(abs)
		add(stripFragment(abs))
		add(stripTrailingSlash(stripFragment(abs)))

		if u, err := url.Parse(abs); err == nil {
			pq := u.Path
			if pq == "" {
				pq = "/"
			}
			if u.RawQuery != "" {
				pq += "?" + u.RawQuery
			}
			add(pq)
			if u.Path != "" {
				add(u.Path)
			} else {
				add("/")
			}
		}
	}
	return out
}

func variantsOverlap(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

func resolveAbsolute(raw, base string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	if base == "" {
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil || !bu.IsAbs() {
		return ""
	}
	return bu.ResolveReference(u).String()
}

func stripFragment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}

func stripTrailingSlash(s string) string {
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		return strings.TrimRight(s, "/")
	}
	return s
}
