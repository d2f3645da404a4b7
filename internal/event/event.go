// Package event defines the reconciled network event stream produced by the
// capture engine and consumed by the resource store.
package event

import "context"

// Kind tags a NetworkEvent.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindFailed   Kind = "failed"
)

// Resource types emitted by the capture engine. Protocol-specific names are
// normalized to these before events leave the engine.
const (
	TypeDocument   = "document"
	TypeStylesheet = "stylesheet"
	TypeScript     = "script"
	TypeImage      = "image"
	TypeFont       = "font"
	TypeMedia      = "media"
	TypeFetch      = "fetch"
	TypeXHR        = "xhr"
	TypeOther      = "other"
)

// NetworkEvent is one entry in the reconciled event stream. RequestID is the
// logical id ("<rawId>:<hop>"): stable across nothing, unique per redirect
// hop. Which fields are populated depends on Kind.
type NetworkEvent struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds

	// Request fields.
	Method       string    `json:"method,omitempty"`
	Headers      HeaderMap `json:"headers,omitempty"`
	FrameID      string    `json:"frame_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Initiator    string    `json:"initiator,omitempty"`
	PostData     string    `json:"post_data,omitempty"`

	// Response fields.
	Status            int    `json:"status,omitempty"`
	StatusText        string `json:"status_text,omitempty"`
	MimeType          string `json:"mime_type,omitempty"`
	FromCache         bool   `json:"from_cache,omitempty"`
	FromServiceWorker bool   `json:"from_service_worker,omitempty"`
	Body              *Body  `json:"-"`

	// Failure fields.
	ErrorText string `json:"error_text,omitempty"`
}

// Body is the response body handle attached to a response event: either
// bytes the engine already holds, or a lazy fetch the consumer may invoke.
type Body struct {
	Bytes []byte
	Fetch func(ctx context.Context) ([]byte, error)
}

// Resolve returns the body bytes, invoking the lazy fetch if needed.
// A nil Body resolves to nil without error.
func (b *Body) Resolve(ctx context.Context) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	if b.Bytes != nil || b.Fetch == nil {
		return b.Bytes, nil
	}
	return b.Fetch(ctx)
}

// IsAPI reports whether a resource type is fetch/xhr traffic, which is
// recorded for programmatic replay rather than stored as a static file.
func IsAPI(resourceType string) bool {
	return resourceType == TypeFetch || resourceType == TypeXHR
}
