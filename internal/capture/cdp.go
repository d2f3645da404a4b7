package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// Message is one protocol notification from the browser debugger.
type Message struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Transport is the browser-debugger connection consumed by the CDP
// adapter. Websocket framing and browser process launch live outside the
// core; only command round-trips and the notification stream are needed.
type Transport interface {
	Call(ctx context.Context, method string, params, result any) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// CDPAdapter is the reference adapter: it speaks the Chrome DevTools
// Protocol Network/Page domains and feeds the correlator.
type CDPAdapter struct {
	transport Transport
}

// NewCDPAdapter wraps an established transport.
func NewCDPAdapter(transport Transport) *CDPAdapter {
	return &CDPAdapter{transport: transport}
}

// Start enables the protocol domains and begins dispatching notifications.
// Failure to enable the Network domain is fatal; everything later degrades
// per-request through handlers.OnError.
func (a *CDPAdapter) Start(ctx context.Context, target string, handlers Handlers) (Session, error) {
	if err := a.transport.Call(ctx, "Network.enable", map[string]any{}, nil); err != nil {
		return nil, fmt.Errorf("enable Network domain: %w", err)
	}
	// Page domain powers the frame-scoped body fallback and navigation;
	// not all targets expose it.
	pageEnabled := a.transport.Call(ctx, "Page.enable", map[string]any{}, nil) == nil

	correlator := NewCorrelator(handlers, &cdpBodyFetcher{transport: a.transport, pageEnabled: pageEnabled})
	sess := &cdpSession{
		adapter:    a,
		correlator: correlator,
		ctx:        ctx,
	}
	go sess.loop()

	if target != "" && pageEnabled {
		if err := sess.Navigate(target); err != nil {
			sess.Stop()
			return nil, fmt.Errorf("navigate to %s: %w", target, err)
		}
	}
	return sess, nil
}

type cdpSession struct {
	adapter    *CDPAdapter
	correlator *Correlator
	ctx        context.Context
	stopOnce   sync.Once
	stopErr    error
}

func (s *cdpSession) Navigate(url string) error {
	return s.adapter.transport.Call(s.ctx, "Page.navigate", map[string]any{"url": url}, nil)
}

func (s *cdpSession) StopIntake() {
	s.correlator.StopIntake()
}

func (s *cdpSession) Stop() error {
	s.stopOnce.Do(func() {
		s.correlator.Close()
		s.stopErr = s.adapter.transport.Close()
	})
	return s.stopErr
}

func (s *cdpSession) Wait(ctx context.Context) error {
	return s.correlator.Wait(ctx)
}

func (s *cdpSession) loop() {
	for {
		msg, err := s.adapter.transport.Recv(s.ctx)
		if err != nil {
			return
		}
		dispatchCDP(s.ctx, s.correlator, msg)
	}
}

// Wire structs for the Network domain notifications the engine consumes.
// Malformed or partially-absent fields decode to zero values rather than
// failing the event.

type cdpRequest struct {
	URL      string          `json:"url"`
	Method   string          `json:"method"`
	Headers  event.HeaderMap `json:"headers"`
	PostData string          `json:"postData"`
}

type cdpResponse struct {
	URL               string          `json:"url"`
	Status            int             `json:"status"`
	StatusText        string          `json:"statusText"`
	Headers           event.HeaderMap `json:"headers"`
	MimeType          string          `json:"mimeType"`
	FromDiskCache     bool            `json:"fromDiskCache"`
	FromServiceWorker bool            `json:"fromServiceWorker"`
}

type cdpRequestWillBeSent struct {
	RequestID        string       `json:"requestId"`
	FrameID          string       `json:"frameId"`
	Request          cdpRequest   `json:"request"`
	RedirectResponse *cdpResponse `json:"redirectResponse"`
	Type             string       `json:"type"`
	Timestamp        float64      `json:"timestamp"`
	WallTime         float64      `json:"wallTime"`
	Initiator        struct {
		URL string `json:"url"`
	} `json:"initiator"`
}

type cdpResponseReceived struct {
	RequestID string      `json:"requestId"`
	FrameID   string      `json:"frameId"`
	Type      string      `json:"type"`
	Response  cdpResponse `json:"response"`
	Timestamp float64     `json:"timestamp"`
}

type cdpLoadingFinished struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
}

type cdpLoadingFailed struct {
	RequestID string  `json:"requestId"`
	ErrorText string  `json:"errorText"`
	Timestamp float64 `json:"timestamp"`
}

// dispatchCDP routes one protocol notification into the correlator.
func dispatchCDP(ctx context.Context, c *Correlator, msg Message) {
	switch msg.Method {
	case "Network.requestWillBeSent":
		var p cdpRequestWillBeSent
		if err := sonic.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		sig := RequestSignal{
			RawID:        p.RequestID,
			URL:          p.Request.URL,
			Method:       p.Request.Method,
			Headers:      p.Request.Headers,
			PostData:     p.Request.PostData,
			FrameID:      p.FrameID,
			ResourceType: p.Type,
			Initiator:    p.Initiator.URL,
			Wall:         p.WallTime,
			Mono:         p.Timestamp,
		}
		if p.RedirectResponse != nil {
			sig.Redirect = &ResponseSignal{
				RawID:             p.RequestID,
				URL:               p.RedirectResponse.URL,
				Status:            p.RedirectResponse.Status,
				StatusText:        p.RedirectResponse.StatusText,
				Headers:           p.RedirectResponse.Headers,
				MimeType:          p.RedirectResponse.MimeType,
				FromCache:         p.RedirectResponse.FromDiskCache,
				FromServiceWorker: p.RedirectResponse.FromServiceWorker,
				Wall:              p.WallTime,
				Mono:              p.Timestamp,
			}
		}
		c.RequestSent(sig)
	case "Network.responseReceived":
		var p cdpResponseReceived
		if err := sonic.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		c.ResponseReceived(ResponseSignal{
			RawID:             p.RequestID,
			URL:               p.Response.URL,
			Status:            p.Response.Status,
			StatusText:        p.Response.StatusText,
			Headers:           p.Response.Headers,
			MimeType:          p.Response.MimeType,
			FromCache:         p.Response.FromDiskCache,
			FromServiceWorker: p.Response.FromServiceWorker,
			FrameID:           p.FrameID,
			Mono:              p.Timestamp,
		})
	case "Network.loadingFinished":
		var p cdpLoadingFinished
		if err := sonic.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		c.LoadingFinished(ctx, FinishedSignal{RawID: p.RequestID, Mono: p.Timestamp})
	case "Network.loadingFailed":
		var p cdpLoadingFailed
		if err := sonic.Unmarshal(msg.Params, &p); err != nil {
			return
		}
		c.LoadingFailed(FailedSignal{RawID: p.RequestID, ErrorText: p.ErrorText, Mono: p.Timestamp})
	}
}

// cdpBodyFetcher implements the two protocol body channels.
type cdpBodyFetcher struct {
	transport   Transport
	pageEnabled bool
}

func (f *cdpBodyFetcher) ResponseBody(ctx context.Context, rawID string) ([]byte, error) {
	var result struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	err := f.transport.Call(ctx, "Network.getResponseBody", map[string]any{"requestId": rawID}, &result)
	if err != nil {
		if strings.Contains(err.Error(), "No data found") || strings.Contains(err.Error(), "No resource with given identifier") {
			return nil, ErrNoBodyData
		}
		return nil, err
	}
	if result.Base64Encoded {
		return base64.StdEncoding.DecodeString(result.Body)
	}
	return []byte(result.Body), nil
}

func (f *cdpBodyFetcher) FrameContent(ctx context.Context, frameID, url string) ([]byte, error) {
	if !f.pageEnabled || frameID == "" {
		return nil, ErrNoBodyData
	}
	var result struct {
		Content       string `json:"content"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	err := f.transport.Call(ctx, "Page.getResourceContent", map[string]any{"frameId": frameID, "url": url}, &result)
	if err != nil {
		return nil, err
	}
	if result.Base64Encoded {
		return base64.StdEncoding.DecodeString(result.Content)
	}
	return []byte(result.Content), nil
}
