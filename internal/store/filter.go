package store

import (
	"net/url"
	"strings"

	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/noise"
)

// ResourceFilter decides whether a non-API resource is persisted.
type ResourceFilter interface {
	ShouldSave(req, resp *event.NetworkEvent) bool
}

// savableTypes is the allow-list applied to typed resources. Untyped
// resources pass by default.
var savableTypes = map[string]bool{
	event.TypeDocument:   true,
	event.TypeStylesheet: true,
	event.TypeScript:     true,
	event.TypeImage:      true,
	event.TypeFont:       true,
	event.TypeMedia:      true,
}

var rejectedSchemes = []string{"data:", "blob:", "mailto:", "tel:", "javascript:"}

// DefaultFilter implements the default persistence policy: reject
// non-fetchable URL schemes, API traffic, error responses, and typed
// resources outside the savable set. SkipNoise additionally rejects known
// analytics/tracking hosts.
type DefaultFilter struct {
	SkipNoise bool
}

func (f DefaultFilter) ShouldSave(req, resp *event.NetworkEvent) bool {
	lower := strings.ToLower(req.URL)
	for _, scheme := range rejectedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	if event.IsAPI(req.ResourceType) {
		return false
	}
	if resp.Status >= 400 {
		return false
	}
	if f.SkipNoise {
		if u, err := url.Parse(req.URL); err == nil && noise.IsNoise(u.Hostname()) {
			return false
		}
	}
	if req.ResourceType != "" {
		return savableTypes[req.ResourceType]
	}
	return true
}
