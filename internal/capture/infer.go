package capture

import (
	"strings"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// normalizeResourceType maps protocol-declared resource type names onto the
// event stream's vocabulary. Unknown names map to "other", absent to "".
func normalizeResourceType(protocolType string) string {
	switch strings.ToLower(protocolType) {
	case "":
		return ""
	case "document":
		return event.TypeDocument
	case "stylesheet":
		return event.TypeStylesheet
	case "script":
		return event.TypeScript
	case "image":
		return event.TypeImage
	case "font":
		return event.TypeFont
	case "media":
		return event.TypeMedia
	case "fetch":
		return event.TypeFetch
	case "xhr", "xmlhttprequest":
		return event.TypeXHR
	default:
		return event.TypeOther
	}
}

// inferResourceType sniffs a resource type from a MIME type. Returns ""
// when nothing can be inferred.
func inferResourceType(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case mt == "":
		return ""
	case strings.Contains(mt, "text/html"):
		return event.TypeDocument
	case strings.Contains(mt, "text/css"):
		return event.TypeStylesheet
	case strings.Contains(mt, "javascript"):
		return event.TypeScript
	case strings.HasPrefix(mt, "image/"):
		return event.TypeImage
	case strings.HasPrefix(mt, "font/"),
		strings.Contains(mt, "woff"),
		strings.Contains(mt, "ttf"),
		strings.Contains(mt, "otf"):
		return event.TypeFont
	case strings.HasPrefix(mt, "audio/"), strings.HasPrefix(mt, "video/"):
		return event.TypeMedia
	default:
		return ""
	}
}
