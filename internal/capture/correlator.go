package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// ErrNoBodyData is the non-error "no data for this identifier" condition a
// BodyFetcher reports when the protocol kept nothing for a request.
var ErrNoBodyData = errors.New("capture: no body data for request")

// BodyFetcher retrieves response bodies. ResponseBody is the primary
// channel, keyed by raw protocol id; FrameContent is the frame-scoped
// fallback used when the primary channel reports an empty body for content
// that was actually rendered inline.
type BodyFetcher interface {
	ResponseBody(ctx context.Context, rawID string) ([]byte, error)
	FrameContent(ctx context.Context, frameID, url string) ([]byte, error)
}

// Signal payloads delivered by adapters. Times are protocol clock values:
// Wall is seconds since epoch, Mono is monotonic seconds; zero means absent.

type RequestSignal struct {
	RawID        string
	URL          string
	Method       string
	Headers      event.HeaderMap
	PostData     string
	FrameID      string
	ResourceType string // protocol-declared, pre-normalization
	Initiator    string
	Wall, Mono   float64
	// Redirect carries the redirect response that terminated the previous
	// hop, when this request is a redirect follow-up.
	Redirect *ResponseSignal
}

type ResponseSignal struct {
	RawID             string
	URL               string
	Status            int
	StatusText        string
	Headers           event.HeaderMap
	MimeType          string
	FromCache         bool
	FromServiceWorker bool
	FrameID           string
	Wall, Mono        float64
}

type FinishedSignal struct {
	RawID string
	Mono  float64
}

type FailedSignal struct {
	RawID     string
	ErrorText string
	Mono      float64
}

// trackedRequest is the per-raw-id lifecycle state:
// unseen -> request-issued -> response-received* -> finished|failed.
// Redirects loop back to request-issued with an incremented hop.
type trackedRequest struct {
	hop      int
	request  event.NetworkEvent
	response *event.NetworkEvent
	frameID  string
	done     bool
}

func (t *trackedRequest) logicalID(rawID string) string {
	return fmt.Sprintf("%s:%d", rawID, t.hop)
}

// Correlator reconciles adapter signals into the ordered event stream.
// Events for the same logical id come out in lifecycle order; nothing is
// guaranteed across ids. Body fetches run asynchronously and are tracked;
// callers must Wait before finalizing a snapshot.
type Correlator struct {
	handlers Handlers
	bodies   BodyFetcher

	mu           sync.Mutex
	emitMu       sync.Mutex
	clock        *wallClock
	tracked      map[string]*trackedRequest
	intakeClosed bool
	closed       bool

	inflight sync.WaitGroup
}

// NewCorrelator returns a correlator emitting into handlers. bodies may be
// nil, in which case responses are emitted without bodies.
func NewCorrelator(handlers Handlers, bodies BodyFetcher) *Correlator {
	return &Correlator{
		handlers: handlers,
		bodies:   bodies,
		clock:    newWallClock(time.Now),
		tracked:  make(map[string]*trackedRequest),
	}
}

// SetNow overrides the wall-clock fallback, for tests.
func (c *Correlator) SetNow(now func() time.Time) {
	c.mu.Lock()
	c.clock.now = now
	c.mu.Unlock()
}

// StopIntake stops accepting new adapter signals. Body fetches already
// issued keep running and still emit their buffered responses, bodiless
// when the fetch fails; pair with Wait to drain them before Close.
func (c *Correlator) StopIntake() {
	c.mu.Lock()
	c.intakeClosed = true
	c.mu.Unlock()
}

// Close stops intake and event emission. Already-issued body fetches still
// settle (and are still awaited by Wait) but their results are dropped.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.intakeClosed = true
	c.closed = true
	c.mu.Unlock()
}

func (c *Correlator) emit(ev event.NetworkEvent) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.handlers.OnEvent == nil {
		return
	}
	c.emitMu.Lock()
	c.handlers.OnEvent(ev)
	c.emitMu.Unlock()
}

func (c *Correlator) fail(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

// RequestSent handles a "request sent" signal. A signal carrying a redirect
// response first closes out the previous hop with a synthetic response
// event, then allocates a new hop.
func (c *Correlator) RequestSent(sig RequestSignal) {
	c.mu.Lock()
	if c.intakeClosed {
		c.mu.Unlock()
		return
	}
	tr, seen := c.tracked[sig.RawID]
	var redirectEv *event.NetworkEvent
	if seen && sig.Redirect != nil {
		prevID := tr.logicalID(sig.RawID)
		ts := c.clock.reconcile(prevID, sig.Redirect.Wall, sig.Redirect.Mono)
		redirectEv = &event.NetworkEvent{
			Kind:              event.KindResponse,
			RequestID:         prevID,
			URL:               sig.Redirect.URL,
			Timestamp:         ts,
			Status:            sig.Redirect.Status,
			StatusText:        sig.Redirect.StatusText,
			Headers:           sig.Redirect.Headers,
			MimeType:          sig.Redirect.MimeType,
			FromCache:         sig.Redirect.FromCache,
			FromServiceWorker: sig.Redirect.FromServiceWorker,
		}
		tr.hop++
		tr.response = nil
		tr.done = false
		c.clock.adopt(prevID, tr.logicalID(sig.RawID))
	}
	if !seen {
		tr = &trackedRequest{}
		c.tracked[sig.RawID] = tr
	}
	logicalID := tr.logicalID(sig.RawID)
	ts := c.clock.reconcile(logicalID, sig.Wall, sig.Mono)
	tr.frameID = sig.FrameID
	tr.request = event.NetworkEvent{
		Kind:         event.KindRequest,
		RequestID:    logicalID,
		URL:          sig.URL,
		Timestamp:    ts,
		Method:       sig.Method,
		Headers:      sig.Headers,
		PostData:     sig.PostData,
		FrameID:      sig.FrameID,
		ResourceType: normalizeResourceType(sig.ResourceType),
		Initiator:    sig.Initiator,
	}
	requestEv := tr.request
	c.mu.Unlock()

	if redirectEv != nil {
		c.emit(*redirectEv)
	}
	c.emit(requestEv)
}

// ResponseReceived records a response. A response with no prior request
// gets a minimal request synthesized first, so every response in the
// emitted stream has a preceding request.
func (c *Correlator) ResponseReceived(sig ResponseSignal) {
	c.mu.Lock()
	if c.intakeClosed {
		c.mu.Unlock()
		return
	}
	tr, seen := c.tracked[sig.RawID]
	var synthesized *event.NetworkEvent
	if !seen {
		tr = &trackedRequest{frameID: sig.FrameID}
		c.tracked[sig.RawID] = tr
		logicalID := tr.logicalID(sig.RawID)
		ts := c.clock.reconcile(logicalID, sig.Wall, sig.Mono)
		tr.request = event.NetworkEvent{
			Kind:         event.KindRequest,
			RequestID:    logicalID,
			URL:          sig.URL,
			Timestamp:    ts,
			Method:       "GET",
			Headers:      event.HeaderMap{},
			FrameID:      sig.FrameID,
			ResourceType: inferResourceType(sig.MimeType),
		}
		synthesized = &tr.request
	}
	logicalID := tr.logicalID(sig.RawID)
	ts := c.clock.reconcile(logicalID, sig.Wall, sig.Mono)

	// Inference may upgrade the request's resource type; re-emit the
	// corrected request so downstream consumers see it.
	var corrected *event.NetworkEvent
	if tr.request.ResourceType == "" || tr.request.ResourceType == event.TypeOther {
		if inferred := inferResourceType(sig.MimeType); inferred != "" && inferred != tr.request.ResourceType {
			tr.request.ResourceType = inferred
			corrected = &tr.request
		}
	}

	if sig.FrameID != "" {
		tr.frameID = sig.FrameID
	}
	tr.response = &event.NetworkEvent{
		Kind:              event.KindResponse,
		RequestID:         logicalID,
		URL:               sig.URL,
		Timestamp:         ts,
		Status:            sig.Status,
		StatusText:        sig.StatusText,
		Headers:           sig.Headers,
		MimeType:          sig.MimeType,
		FromCache:         sig.FromCache,
		FromServiceWorker: sig.FromServiceWorker,
	}
	c.mu.Unlock()

	if synthesized != nil {
		c.emit(*synthesized)
	} else if corrected != nil {
		c.emit(*corrected)
	}
}

// LoadingFinished completes a request: the body is acquired asynchronously
// and the buffered response event is emitted with it. Signals for unknown
// ids are ignored.
func (c *Correlator) LoadingFinished(ctx context.Context, sig FinishedSignal) {
	c.mu.Lock()
	if c.intakeClosed {
		c.mu.Unlock()
		return
	}
	tr, ok := c.tracked[sig.RawID]
	if !ok || tr.response == nil || tr.done {
		c.mu.Unlock()
		return
	}
	tr.done = true
	resp := *tr.response
	frameID := tr.frameID
	c.mu.Unlock()

	if c.bodies == nil {
		c.emit(resp)
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		body := c.fetchBody(ctx, sig.RawID, frameID, resp.URL)
		if body != nil {
			resp.Body = &event.Body{Bytes: body}
		}
		c.emit(resp)
	}()
}

// fetchBody runs the two-stage acquisition: primary fetch by raw id ("no
// data" is absence, not an error), then the frame-scoped fallback when the
// primary channel comes back empty.
func (c *Correlator) fetchBody(ctx context.Context, rawID, frameID, url string) []byte {
	body, err := c.bodies.ResponseBody(ctx, rawID)
	if err != nil && !errors.Is(err, ErrNoBodyData) {
		c.fail(fmt.Errorf("fetch body for %s: %w", url, err))
		body = nil
	}
	if len(body) > 0 {
		return body
	}
	fallback, err := c.bodies.FrameContent(ctx, frameID, url)
	if err != nil || len(fallback) == 0 {
		return body
	}
	return fallback
}

// LoadingFailed emits a failure event carrying the best known URL: the
// tracked request's, else the response's, else empty.
func (c *Correlator) LoadingFailed(sig FailedSignal) {
	c.mu.Lock()
	if c.intakeClosed {
		c.mu.Unlock()
		return
	}
	tr, ok := c.tracked[sig.RawID]
	var logicalID, url string
	if ok {
		logicalID = tr.logicalID(sig.RawID)
		url = tr.request.URL
		if url == "" && tr.response != nil {
			url = tr.response.URL
		}
		tr.done = true
	} else {
		logicalID = sig.RawID + ":0"
	}
	ts := c.clock.reconcile(logicalID, 0, sig.Mono)
	c.mu.Unlock()

	c.emit(event.NetworkEvent{
		Kind:      event.KindFailed,
		RequestID: logicalID,
		URL:       url,
		Timestamp: ts,
		ErrorText: sig.ErrorText,
	})
}

// Wait blocks until every issued body fetch has settled or ctx expires.
func (c *Correlator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
