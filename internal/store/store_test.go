package store

import (
	"context"
	"strings"
	"testing"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
)

func requestEvent(id, url, resourceType string) event.NetworkEvent {
	return event.NetworkEvent{
		Kind:         event.KindRequest,
		RequestID:    id,
		URL:          url,
		Method:       "GET",
		ResourceType: resourceType,
	}
}

func responseEvent(id, url, mime string, status int, body []byte) event.NetworkEvent {
	ev := event.NetworkEvent{
		Kind:      event.KindResponse,
		RequestID: id,
		URL:       url,
		Status:    status,
		MimeType:  mime,
	}
	if body != nil {
		ev.Body = &event.Body{Bytes: body}
	}
	return ev
}

func TestStorePersistsSavableResource(t *testing.T) {
	cs := content.New(nil, 0)
	ns := New(cs, nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/", event.TypeDocument))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/", "text/html", 200, []byte("<html></html>")))

	resources := ns.Resources()
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1", len(resources))
	}
	body, err := cs.ReadAll(resources[0].Ref)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "<html></html>" {
		t.Errorf("body = %q", body)
	}
	if resources[0].MimeType != "text/html" {
		t.Errorf("mime = %s", resources[0].MimeType)
	}
}

func TestStoreTerminalEventsAreIdempotent(t *testing.T) {
	cs := content.New(nil, 0)
	ns := New(cs, nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/", event.TypeDocument))
	resp := responseEvent("1:0", "https://a.test/", "text/html", 200, []byte("first"))
	ns.HandleEvent(ctx, resp)
	resp.Body = &event.Body{Bytes: []byte("second")}
	ns.HandleEvent(ctx, resp)

	resources := ns.Resources()
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1", len(resources))
	}
	body, _ := cs.ReadAll(resources[0].Ref)
	if string(body) != "first" {
		t.Errorf("body = %q, want the first response kept", body)
	}
}

func TestStoreLatestRequestWins(t *testing.T) {
	cs := content.New(nil, 0)
	ns := New(cs, nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/pic", event.TypeOther))
	corrected := requestEvent("1:0", "https://a.test/pic", event.TypeImage)
	ns.HandleEvent(ctx, corrected)
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/pic", "image/png", 200, []byte{0x89}))

	resources := ns.Resources()
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1", len(resources))
	}
	if resources[0].Request.ResourceType != event.TypeImage {
		t.Errorf("type = %s, want image", resources[0].Request.ResourceType)
	}
}

func TestStoreDropsResponseForUnknownRequest(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})

	ns.HandleEvent(context.Background(), responseEvent("9:0", "https://a.test/x", "text/html", 200, []byte("x")))

	if len(ns.Resources()) != 0 {
		t.Fatal("orphan response was persisted")
	}
	warnings := ns.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "unknown request") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestStoreErrorStatusNeverPersisted(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/gone", event.TypeDocument))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/gone", "text/html", 404, []byte("not found")))

	if len(ns.Resources()) != 0 {
		t.Fatal("error response was persisted")
	}
}

func TestStoreMissingBodyWarnsAndSkips(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/", event.TypeDocument))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/", "text/html", 200, nil))

	if len(ns.Resources()) != 0 {
		t.Fatal("bodyless response was persisted")
	}
	warnings := ns.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "no body") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestStoreResourceCountLimit(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{MaxResources: 1})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/", event.TypeDocument))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/", "text/html", 200, []byte("a")))
	ns.HandleEvent(ctx, requestEvent("2:0", "https://a.test/b.css", event.TypeStylesheet))
	ns.HandleEvent(ctx, responseEvent("2:0", "https://a.test/b.css", "text/css", 200, []byte("b")))

	if len(ns.Resources()) != 1 {
		t.Fatalf("got %d resources, want 1", len(ns.Resources()))
	}
	warnings := ns.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "resource limit") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestStorePerResourceByteLimit(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{MaxResourceBytes: 4})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/big.js", event.TypeScript))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/big.js", "text/javascript", 200, []byte("0123456789")))

	if len(ns.Resources()) != 0 {
		t.Fatal("oversized resource was persisted")
	}
	warnings := ns.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "per-resource limit") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestStoreTotalByteLimit(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{MaxTotalBytes: 5})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/a", event.TypeDocument))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/a", "text/html", 200, []byte("abcd")))
	ns.HandleEvent(ctx, requestEvent("2:0", "https://a.test/b.css", event.TypeStylesheet))
	ns.HandleEvent(ctx, responseEvent("2:0", "https://a.test/b.css", "text/css", 200, []byte("efgh")))

	if len(ns.Resources()) != 1 {
		t.Fatalf("got %d resources, want 1", len(ns.Resources()))
	}
}

func TestStoreRecordsAPITraffic(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})
	ctx := context.Background()

	req := requestEvent("1:0", "https://a.test/api/user", event.TypeFetch)
	req.Method = "POST"
	req.PostData = `{"name":"x"}`
	req.Headers = event.HeaderMap{"Content-Type": {"application/json"}}
	ns.HandleEvent(ctx, req)
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/api/user", "application/json", 201, []byte(`{"id":7}`)))

	if len(ns.Resources()) != 0 {
		t.Fatal("API traffic was persisted as a resource")
	}
	records := ns.ApiRecords()
	if len(records) != 1 {
		t.Fatalf("got %d api records, want 1", len(records))
	}
	rec := records[0]
	if rec.Method != "POST" || rec.Status != 201 {
		t.Errorf("record = %s %d", rec.Method, rec.Status)
	}
	if rec.RequestBody != `{"name":"x"}` {
		t.Errorf("request body = %q", rec.RequestBody)
	}
	if rec.ResponseBody != `{"id":7}` {
		t.Errorf("response body = %q", rec.ResponseBody)
	}
	if rec.ResponseEncoding != "" {
		t.Errorf("encoding = %q, want text", rec.ResponseEncoding)
	}
}

func TestStoreBinaryAPIBodyIsBase64(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/api/blob", event.TypeXHR))
	ns.HandleEvent(ctx, responseEvent("1:0", "https://a.test/api/blob", "application/octet-stream", 200, []byte{0xff, 0xfe, 0x00}))

	records := ns.ApiRecords()
	if len(records) != 1 {
		t.Fatalf("got %d api records, want 1", len(records))
	}
	rec := records[0]
	if rec.ResponseBody != "" || rec.ResponseBodyBase64 == "" {
		t.Errorf("binary body stored as text: %q / %q", rec.ResponseBody, rec.ResponseBodyBase64)
	}
	if rec.ResponseEncoding != "base64" {
		t.Errorf("encoding = %q, want base64", rec.ResponseEncoding)
	}
}

func TestStoreFailedAPIRecordsError(t *testing.T) {
	ns := New(content.New(nil, 0), nil, Limits{})
	ctx := context.Background()

	ns.HandleEvent(ctx, requestEvent("1:0", "https://a.test/api/flaky", event.TypeFetch))
	ns.HandleEvent(ctx, event.NetworkEvent{
		Kind:      event.KindFailed,
		RequestID: "1:0",
		URL:       "https://a.test/api/flaky",
		ErrorText: "net::ERR_CONNECTION_RESET",
	})

	records := ns.ApiRecords()
	if len(records) != 1 {
		t.Fatalf("got %d api records, want 1", len(records))
	}
	if records[0].Error != "net::ERR_CONNECTION_RESET" {
		t.Errorf("error = %q", records[0].Error)
	}
	if records[0].Status != 0 {
		t.Errorf("status = %d, want 0", records[0].Status)
	}
}
