// Package store consumes the reconciled event stream, decides what to
// persist, enforces resource and byte limits, and tracks API traffic for
// replay. One NetworkStore is owned by exactly one capture session.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/replay"
)

// StoredResource is one persisted resource: the originating request, its
// response, and the content ref. Immutable once created.
type StoredResource struct {
	Request  event.NetworkEvent
	Response event.NetworkEvent
	Ref      content.Ref
	Size     int64
	MimeType string
}

// Limits caps what a capture persists. Zero values disable the
// corresponding cap. Violations append a warning and skip persistence
// without aborting the capture.
type Limits struct {
	MaxResourceBytes int64
	MaxTotalBytes    int64
	MaxResources     int
}

// NetworkStore reconciles events into stored resources and API records.
type NetworkStore struct {
	content *content.Store
	filter  ResourceFilter
	limits  Limits

	mu         sync.Mutex
	pending    map[string]event.NetworkEvent // logical id -> latest request
	terminal   map[string]bool               // logical ids that saw response/failed
	resources  []StoredResource
	apiSeen    map[string]bool
	apiRecords []replay.ApiRecord
	totalBytes int64
	warnings   []string
}

// New returns a store writing resource bodies into cs. A nil filter selects
// the default policy.
func New(cs *content.Store, filter ResourceFilter, limits Limits) *NetworkStore {
	if filter == nil {
		filter = DefaultFilter{}
	}
	return &NetworkStore{
		content:  cs,
		filter:   filter,
		limits:   limits,
		pending:  make(map[string]event.NetworkEvent),
		terminal: make(map[string]bool),
		apiSeen:  make(map[string]bool),
	}
}

// HandleEvent processes one reconciled event. Terminal events (response,
// failed) are idempotent per logical id; events for ids with no registered
// request are dropped with a warning. Safe to call from the engine's body
// fetch goroutines.
func (ns *NetworkStore) HandleEvent(ctx context.Context, ev event.NetworkEvent) {
	switch ev.Kind {
	case event.KindRequest:
		ns.mu.Lock()
		// Latest request wins: the engine re-emits a request when type
		// inference upgrades it.
		ns.pending[ev.RequestID] = ev
		ns.mu.Unlock()
	case event.KindResponse:
		ns.handleResponse(ctx, ev)
	case event.KindFailed:
		ns.handleFailed(ev)
	}
}

func (ns *NetworkStore) handleResponse(ctx context.Context, ev event.NetworkEvent) {
	ns.mu.Lock()
	req, ok := ns.pending[ev.RequestID]
	if !ok {
		ns.warnings = append(ns.warnings, fmt.Sprintf("response for unknown request %s dropped (%s)", ev.RequestID, ev.URL))
		ns.mu.Unlock()
		return
	}
	if ns.terminal[ev.RequestID] {
		ns.mu.Unlock()
		return
	}
	ns.terminal[ev.RequestID] = true
	isAPI := event.IsAPI(req.ResourceType)
	ns.mu.Unlock()

	body, err := ev.Body.Resolve(ctx)
	if err != nil {
		ns.warn(fmt.Sprintf("body fetch failed for %s: %v", ev.URL, err))
		body = nil
	}

	if isAPI {
		ns.recordAPI(req, &ev, body, "")
		return
	}
	if !ns.filter.ShouldSave(&req, &ev) {
		return
	}
	ns.persist(req, ev, body)
}

func (ns *NetworkStore) handleFailed(ev event.NetworkEvent) {
	ns.mu.Lock()
	req, ok := ns.pending[ev.RequestID]
	if !ok {
		ns.warnings = append(ns.warnings, fmt.Sprintf("failure for unknown request %s dropped", ev.RequestID))
		ns.mu.Unlock()
		return
	}
	if ns.terminal[ev.RequestID] {
		ns.mu.Unlock()
		return
	}
	ns.terminal[ev.RequestID] = true
	isAPI := event.IsAPI(req.ResourceType)
	ns.mu.Unlock()

	if isAPI {
		ns.recordAPI(req, nil, nil, ev.ErrorText)
	}
}

// persist applies the ordered limit checks and writes the body.
func (ns *NetworkStore) persist(req, resp event.NetworkEvent, body []byte) {
	if body == nil {
		ns.warn(fmt.Sprintf("no body captured for %s, skipping", resp.URL))
		return
	}
	size := int64(len(body))
	if ns.limits.MaxResourceBytes > 0 && size > ns.limits.MaxResourceBytes {
		ns.warn(fmt.Sprintf("%s exceeds per-resource limit (%d bytes), skipping", resp.URL, size))
		return
	}

	ns.mu.Lock()
	if ns.limits.MaxResources > 0 && len(ns.resources) >= ns.limits.MaxResources {
		ns.warnings = append(ns.warnings, fmt.Sprintf("resource limit reached (%d), skipping %s", ns.limits.MaxResources, resp.URL))
		ns.mu.Unlock()
		return
	}
	if ns.limits.MaxTotalBytes > 0 && ns.totalBytes+size > ns.limits.MaxTotalBytes {
		ns.warnings = append(ns.warnings, fmt.Sprintf("total byte limit would be exceeded, skipping %s", resp.URL))
		ns.mu.Unlock()
		return
	}
	ns.mu.Unlock()

	ref, err := ns.content.Put(body, content.Meta{URL: resp.URL, MimeType: resp.MimeType})
	if err != nil {
		ns.warn(fmt.Sprintf("storing %s failed: %v", resp.URL, err))
		return
	}

	ns.mu.Lock()
	ns.totalBytes += size
	ns.resources = append(ns.resources, StoredResource{
		Request:  req,
		Response: resp,
		Ref:      ref,
		Size:     size,
		MimeType: resp.MimeType,
	})
	ns.mu.Unlock()
}

// recordAPI builds an ApiRecord from a request and optional response or
// error. At most one record per logical id; duplicates are dropped.
func (ns *NetworkStore) recordAPI(req event.NetworkEvent, resp *event.NetworkEvent, body []byte, errText string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.apiSeen[req.RequestID] {
		return
	}
	ns.apiSeen[req.RequestID] = true

	rec := replay.ApiRecord{
		URL:            req.URL,
		Method:         req.Method,
		RequestHeaders: req.Headers,
		Timestamp:      req.Timestamp,
		FrameID:        req.FrameID,
		Initiator:      req.Initiator,
	}
	if req.PostData != "" {
		text, b64, enc := classifyBody([]byte(req.PostData), req.Headers.First("content-type"))
		rec.RequestBody, rec.RequestBodyBase64, rec.RequestEncoding = text, b64, enc
	}
	if resp != nil {
		rec.Status = resp.Status
		rec.StatusText = resp.StatusText
		rec.ResponseHeaders = resp.Headers
		rec.Timestamp = resp.Timestamp
		text, b64, enc := classifyBody(body, resp.MimeType)
		rec.ResponseBody, rec.ResponseBodyBase64, rec.ResponseEncoding = text, b64, enc
	}
	rec.Error = errText
	ns.apiRecords = append(ns.apiRecords, rec)
}

func (ns *NetworkStore) warn(msg string) {
	ns.mu.Lock()
	ns.warnings = append(ns.warnings, msg)
	ns.mu.Unlock()
}

// Resources returns the persisted resources in arrival order.
func (ns *NetworkStore) Resources() []StoredResource {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]StoredResource, len(ns.resources))
	copy(out, ns.resources)
	return out
}

// ApiRecords returns the recorded API traffic in arrival order.
func (ns *NetworkStore) ApiRecords() []replay.ApiRecord {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]replay.ApiRecord, len(ns.apiRecords))
	copy(out, ns.apiRecords)
	return out
}

// Warnings returns the accumulated per-resource warnings.
func (ns *NetworkStore) Warnings() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]string, len(ns.warnings))
	copy(out, ns.warnings)
	return out
}
