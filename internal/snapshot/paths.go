// Package snapshot groups captured resources by document, assigns
// collision-free local paths, and rewrites content references to those
// paths, producing the final replayable file tree.
package snapshot

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// ExternalPrefix roots cross-origin resources in the snapshot tree.
const ExternalPrefix = "/external_resources"

// PathResolver maps URLs to stable local paths. Stateful: identical input
// URLs always yield the identical path within one instance, and two
// distinct URLs never share a path. One resolver per document group, never
// reused across snapshots.
type PathResolver struct {
	byURL map[string]string
	taken map[string]string // path -> url that owns it
}

func NewPathResolver() *PathResolver {
	return &PathResolver{
		byURL: make(map[string]string),
		taken: make(map[string]string),
	}
}

// Resolve returns the local path for rawURL. The entry document resolves to
// /index.html immediately; everything else gets a normalized pathname,
// cross-origin resources under ExternalPrefix, query variants a __ppq_
// suffix, and path collisions between distinct URLs a __ppc_ suffix (first
// writer keeps the clean path).
func (r *PathResolver) Resolve(rawURL, resourceType, mimeType string, crossOrigin bool, entryURL string) string {
	// Fragment variants name the same resource, so memoization keys on the
	// fragment-stripped URL.
	key := stripFragment(rawURL)
	if p, ok := r.byURL[key]; ok {
		return p
	}

	if resourceType == event.TypeDocument && sameURL(key, entryURL) {
		return r.claim(key, "/index.html")
	}

	u, err := url.Parse(key)
	if err != nil {
		return r.claim(key, "/"+shortHash(key))
	}

	p := u.EscapedPath()
	if p == "" || strings.HasSuffix(p, "/") {
		p += "index"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)

	if ext := path.Ext(p); ext == "" {
		p += defaultExtension(resourceType, mimeType)
	}

	if crossOrigin {
		host := u.Hostname()
		if host == "" {
			host = "unknown"
		}
		p = ExternalPrefix + "/" + host + p
	}

	if u.RawQuery != "" {
		p = insertSuffix(p, "__ppq_"+shortHash(u.RawQuery))
	}

	if owner, exists := r.taken[p]; exists && owner != key {
		p = insertSuffix(p, "__ppc_"+shortHash(key))
	}
	return r.claim(key, p)
}

func (r *PathResolver) claim(rawURL, p string) string {
	r.byURL[rawURL] = p
	if _, exists := r.taken[p]; !exists {
		r.taken[p] = rawURL
	}
	return p
}

// insertSuffix places a suffix before the extension: a.js -> a__x.js.
func insertSuffix(p, suffix string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

func shortHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:4])
}

func sameURL(a, b string) bool {
	if a == b {
		return true
	}
	return stripFragment(a) == stripFragment(b)
}

func stripFragment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}

// defaultExtension picks a file extension for extension-less paths so the
// snapshot serves with sensible types.
func defaultExtension(resourceType, mimeType string) string {
	switch resourceType {
	case event.TypeDocument:
		return ".html"
	case event.TypeStylesheet:
		return ".css"
	case event.TypeScript:
		return ".js"
	}
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "html"):
		return ".html"
	case strings.Contains(mt, "css"):
		return ".css"
	case strings.Contains(mt, "javascript"):
		return ".js"
	case strings.Contains(mt, "svg"):
		return ".svg"
	case strings.Contains(mt, "png"):
		return ".png"
	case strings.Contains(mt, "jpeg"), strings.Contains(mt, "jpg"):
		return ".jpg"
	case strings.Contains(mt, "gif"):
		return ".gif"
	case strings.Contains(mt, "webp"):
		return ".webp"
	case strings.Contains(mt, "woff2"):
		return ".woff2"
	case strings.Contains(mt, "woff"):
		return ".woff"
	case strings.Contains(mt, "json"):
		return ".json"
	}
	return ""
}
