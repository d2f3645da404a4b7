package snapshot

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/replay"
	"github.com/mistricky/pagepocket-sub000/internal/store"
)

func storedResource(t *testing.T, cs *content.Store, id, url, rtype, mime string, body []byte) store.StoredResource {
	t.Helper()
	ref, err := cs.Put(body, content.Meta{URL: url, MimeType: mime})
	if err != nil {
		t.Fatalf("put %s: %v", url, err)
	}
	return store.StoredResource{
		Request: event.NetworkEvent{
			Kind: event.KindRequest, RequestID: id, URL: url,
			Method: "GET", ResourceType: rtype,
		},
		Response: event.NetworkEvent{
			Kind: event.KindResponse, RequestID: id, URL: url,
			Status: 200, MimeType: mime,
		},
		Ref:      ref,
		Size:     int64(len(body)),
		MimeType: mime,
	}
}

func fileByPath(t *testing.T, res *Result, path string) File {
	t.Helper()
	for _, f := range res.Files {
		if f.Path == path {
			return f
		}
	}
	t.Fatalf("no file at %s, have %v", path, filePaths(res))
	return File{}
}

func filePaths(res *Result) []string {
	var out []string
	for _, f := range res.Files {
		out = append(out, f.Path)
	}
	return out
}

func TestBuildSinglePageSnapshot(t *testing.T) {
	cs := content.New(nil, 0)
	entryURL := "https://site.test/"

	doc := storedResource(t, cs, "d:0", entryURL, event.TypeDocument, "text/html",
		[]byte(`<!doctype html><html><head><title>Home</title><link rel="stylesheet" href="/style.css"></head><body><img src="https://site.test/bg.png"></body></html>`))
	css := storedResource(t, cs, "c:0", "https://site.test/style.css", event.TypeStylesheet, "text/css",
		[]byte(`body { background: url(https://site.test/bg.png); }`))
	img := storedResource(t, cs, "i:0", "https://site.test/bg.png", event.TypeImage, "image/png",
		[]byte{0x89, 0x50, 0x4e, 0x47})

	rec := replay.ApiRecord{URL: "https://site.test/api/user", Method: "GET", Status: 200, ResponseBody: `{"ok":true}`}
	fixed := time.UnixMilli(1756700000000)

	res, err := Build(entryURL, []store.StoredResource{doc, css, img}, []replay.ApiRecord{rec}, cs,
		Options{Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if res.EntryPath != "/index.html" {
		t.Errorf("entry path = %s", res.EntryPath)
	}
	if res.Title != "Home" {
		t.Errorf("title = %q", res.Title)
	}
	if len(res.Files) != 4 {
		t.Fatalf("got %d files (%v), want 4", len(res.Files), filePaths(res))
	}

	htmlFile := fileByPath(t, res, "/index.html")
	html, err := cs.ReadAll(htmlFile.Ref)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	for _, want := range []string{`href="/style.css"`, `src="/bg.png"`, "__pagepocketPatched", `"api.json"`} {
		if !strings.Contains(string(html), want) {
			t.Errorf("document missing %q", want)
		}
	}

	imgPath := fileByPath(t, res, "/bg.png").Path
	cssFile := fileByPath(t, res, "/style.css")
	cssBody, err := cs.ReadAll(cssFile.Ref)
	if err != nil {
		t.Fatalf("read css: %v", err)
	}
	if !strings.Contains(string(cssBody), "url("+imgPath+")") {
		t.Errorf("stylesheet does not reference the image path %s: %s", imgPath, cssBody)
	}

	manifestFile := fileByPath(t, res, "/api.json")
	data, err := cs.ReadAll(manifestFile.Ref)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest replay.Manifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.Version != replay.ManifestVersion {
		t.Errorf("manifest version = %s", manifest.Version)
	}
	if manifest.CreatedAt != fixed.UnixMilli() {
		t.Errorf("createdAt = %d", manifest.CreatedAt)
	}
	if len(manifest.Records) != 1 || manifest.Records[0].URL != rec.URL {
		t.Errorf("records = %+v", manifest.Records)
	}
}

func TestBuildEmitsManifestWithoutRecords(t *testing.T) {
	cs := content.New(nil, 0)
	doc := storedResource(t, cs, "d:0", "https://site.test/", event.TypeDocument, "text/html",
		[]byte(`<html><head></head></html>`))

	res, err := Build("https://site.test/", []store.StoredResource{doc}, nil, cs, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := cs.ReadAll(fileByPath(t, res, "/api.json").Ref)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest replay.Manifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.Records == nil || len(manifest.Records) != 0 {
		t.Errorf("records = %v, want empty non-nil", manifest.Records)
	}
}

func TestBuildMultiDocumentGroups(t *testing.T) {
	cs := content.New(nil, 0)
	entryURL := "https://site.test/"

	main := storedResource(t, cs, "d1:0", entryURL, event.TypeDocument, "text/html",
		[]byte(`<html><head><title>Main</title></head></html>`))
	main.Request.FrameID = "f1"
	widget := storedResource(t, cs, "d2:0", "https://site.test/widget.html", event.TypeDocument, "text/html",
		[]byte(`<html><head><title>Widget</title></head></html>`))
	widget.Request.FrameID = "f2"

	// Attributed by frame id.
	css := storedResource(t, cs, "c:0", "https://site.test/w.css", event.TypeStylesheet, "text/css",
		[]byte(`body{}`))
	css.Request.FrameID = "f2"
	// Attributed by initiator URL.
	img := storedResource(t, cs, "i:0", "https://site.test/pic.png", event.TypeImage, "image/png",
		[]byte{0x89})
	img.Request.Initiator = "https://site.test/widget.html"
	// No attribution falls back to the primary group.
	font := storedResource(t, cs, "f:0", "https://site.test/f.woff2", event.TypeFont, "font/woff2",
		[]byte{0x77})

	rec := replay.ApiRecord{URL: "https://site.test/api/w", Method: "GET", FrameID: "f2"}

	res, err := Build(entryURL, []store.StoredResource{main, widget, css, img, font}, []replay.ApiRecord{rec}, cs, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if res.EntryPath != "/index.html" {
		t.Errorf("entry path = %s", res.EntryPath)
	}
	if res.Title != "Main" {
		t.Errorf("title = %q", res.Title)
	}

	for _, want := range []string{
		"/index.html",
		"/api.json",
		"/f.woff2",
		"/widget/index.html",
		"/widget/api.json",
		"/widget/w.css",
		"/widget/pic.png",
	} {
		fileByPath(t, res, want)
	}

	data, err := cs.ReadAll(fileByPath(t, res, "/widget/api.json").Ref)
	if err != nil {
		t.Fatalf("read widget manifest: %v", err)
	}
	var manifest replay.Manifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("parse widget manifest: %v", err)
	}
	if len(manifest.Records) != 1 || manifest.Records[0].URL != rec.URL {
		t.Errorf("widget records = %+v", manifest.Records)
	}
}

func TestBuildFoldsExtraDocumentsWithoutFrames(t *testing.T) {
	cs := content.New(nil, 0)
	entryURL := "https://site.test/"

	doc := storedResource(t, cs, "d1:0", entryURL, event.TypeDocument, "text/html",
		[]byte(`<html><head></head></html>`))
	extra := storedResource(t, cs, "d2:0", "https://site.test/popup.html", event.TypeDocument, "text/html",
		[]byte(`<html></html>`))

	res, err := Build(entryURL, []store.StoredResource{doc, extra}, nil, cs, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	fileByPath(t, res, "/index.html")
	fileByPath(t, res, "/popup.html")
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "extra document") {
			found = true
		}
	}
	if !found {
		t.Errorf("no extra-document warning in %v", res.Warnings)
	}
}

func TestBuildCrossOriginResourcePlacement(t *testing.T) {
	cs := content.New(nil, 0)
	entryURL := "https://site.test/"

	doc := storedResource(t, cs, "d:0", entryURL, event.TypeDocument, "text/html",
		[]byte(`<html><head><script src="https://cdn.test/lib.js"></script></head></html>`))
	lib := storedResource(t, cs, "s:0", "https://cdn.test/lib.js", event.TypeScript, "text/javascript",
		[]byte(`console.log(1);`))

	res, err := Build(entryURL, []store.StoredResource{doc, lib}, nil, cs, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	libFile := fileByPath(t, res, "/external_resources/cdn.test/lib.js")
	if libFile.URL != "https://cdn.test/lib.js" {
		t.Errorf("lib url = %s", libFile.URL)
	}

	html, err := cs.ReadAll(fileByPath(t, res, "/index.html").Ref)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(html), `src="/external_resources/cdn.test/lib.js"`) {
		t.Errorf("document does not reference the relocated script: %s", html)
	}
}

func TestInjectBootstrapPlacement(t *testing.T) {
	doc := `<html><head><script>window.x=1</script></head></html>`
	out := injectBootstrap(doc, "api.json")

	headEnd := strings.Index(out, "<head>") + len("<head>")
	bootstrapAt := strings.Index(out, "data-pagepocket")
	inlineAt := strings.Index(out, "window.x=1")
	if bootstrapAt < headEnd || bootstrapAt > inlineAt {
		t.Errorf("bootstrap not injected between <head> and the first inline script")
	}

	// Headless fragments still get the shim, prepended.
	out = injectBootstrap("<p>bare</p>", "api.json")
	if !strings.HasPrefix(out, "<script") {
		t.Errorf("bootstrap not prepended to headless document")
	}
}

func TestExtractTitle(t *testing.T) {
	if got := extractTitle(`<html><head><title> Spaced Title </title></head></html>`); got != "Spaced Title" {
		t.Errorf("title = %q", got)
	}
	if got := extractTitle(`<html></html>`); got != "" {
		t.Errorf("title = %q, want empty", got)
	}
}
