package snapshot

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/replay"
	"github.com/mistricky/pagepocket-sub000/internal/store"
)

// File is one final output unit. Immutable; produced only by Build.
type File struct {
	Path     string
	MimeType string
	Size     int64
	Ref      content.Ref
	URL      string
}

// Result is the built snapshot: the file tree plus entry metadata.
type Result struct {
	Files     []File
	EntryPath string
	Title     string
	Warnings  []string
}

// Options tune a build.
type Options struct {
	// NewResolver supplies the per-group path resolver. Nil selects
	// NewPathResolver. Resolvers are stateful and never reused.
	NewResolver func() *PathResolver
	// Now overrides manifest timestamps, for tests.
	Now func() time.Time
}

// documentGroup is one document (page or iframe) with everything
// attributed to it.
type documentGroup struct {
	url       string
	frameID   string
	doc       *store.StoredResource
	resources []store.StoredResource
	api       []replay.ApiRecord
}

// Build groups resources by document, assigns local paths, rewrites
// content, and emits the snapshot file tree. Data-shape problems degrade
// to warnings; only content-store failures are returned as errors.
func Build(entryURL string, resources []store.StoredResource, apiRecords []replay.ApiRecord, cs *content.Store, opts Options) (*Result, error) {
	if opts.NewResolver == nil {
		opts.NewResolver = NewPathResolver
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	result := &Result{EntryPath: "/index.html"}
	groups, primary := groupResources(entryURL, resources, apiRecords, result)
	multi := len(groups) > 1

	for _, g := range groups {
		if err := buildGroup(g, g == primary, multi, cs, opts, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// groupResources partitions resources into document groups following the
// ordered attribution fallback: frame id, then initiator URL, then the
// primary group, then the first group.
func groupResources(entryURL string, resources []store.StoredResource, apiRecords []replay.ApiRecord, result *Result) ([]*documentGroup, *documentGroup) {
	var docs []store.StoredResource
	anyFrame := false
	for _, res := range resources {
		if res.Request.ResourceType == event.TypeDocument {
			docs = append(docs, res)
		}
		if res.Request.FrameID != "" {
			anyFrame = true
		}
	}

	if !anyFrame || len(docs) <= 1 {
		return singleGroup(entryURL, docs, resources, apiRecords, result)
	}

	var groups []*documentGroup
	byFrame := make(map[string]*documentGroup)
	byURL := make(map[string]*documentGroup)
	var primary *documentGroup
	for i := range docs {
		doc := docs[i]
		key := doc.Request.FrameID
		if key == "" {
			key = doc.Request.RequestID
		}
		if _, dup := byFrame[key]; dup {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate document for frame %s: %s", key, doc.Request.URL))
			continue
		}
		g := &documentGroup{url: doc.Request.URL, frameID: key, doc: &docs[i]}
		byFrame[key] = g
		byURL[stripFragment(doc.Request.URL)] = g
		groups = append(groups, g)
		if primary == nil && sameURL(doc.Request.URL, entryURL) {
			primary = g
		}
	}
	if primary == nil && len(groups) > 0 {
		primary = groups[0]
	}

	assign := func(frameID, initiator string) *documentGroup {
		if g, ok := byFrame[frameID]; ok && frameID != "" {
			return g
		}
		if g, ok := byURL[stripFragment(initiator)]; ok && initiator != "" {
			return g
		}
		if primary != nil {
			return primary
		}
		return groups[0]
	}

	for _, res := range resources {
		if res.Request.ResourceType == event.TypeDocument {
			continue
		}
		g := assign(res.Request.FrameID, res.Request.Initiator)
		g.resources = append(g.resources, res)
	}
	for _, rec := range apiRecords {
		g := assign(rec.FrameID, rec.Initiator)
		g.api = append(g.api, rec)
	}
	return groups, primary
}

// singleGroup folds everything into one group, warning about extra
// documents.
func singleGroup(entryURL string, docs, resources []store.StoredResource, apiRecords []replay.ApiRecord, result *Result) ([]*documentGroup, *documentGroup) {
	g := &documentGroup{url: entryURL, api: apiRecords}
	for i := range docs {
		if sameURL(docs[i].Request.URL, entryURL) {
			g.doc = &docs[i]
			g.url = docs[i].Request.URL
			break
		}
	}
	if g.doc == nil && len(docs) > 0 {
		g.doc = &docs[0]
		g.url = docs[0].Request.URL
	}
	for _, res := range resources {
		if g.doc != nil && res.Request.RequestID == g.doc.Request.RequestID {
			continue
		}
		if res.Request.ResourceType == event.TypeDocument {
			result.Warnings = append(result.Warnings, fmt.Sprintf("extra document folded into snapshot: %s", res.Request.URL))
		}
		g.resources = append(g.resources, res)
	}
	return []*documentGroup{g}, g
}

// buildGroup resolves paths, rewrites content, and emits the group's files
// plus its api.json manifest.
func buildGroup(g *documentGroup, isPrimary, multi bool, cs *content.Store, opts Options, result *Result) error {
	resolver := opts.NewResolver()
	prefix := ""
	if multi {
		prefix = groupPrefix(g.url)
	}

	// Assign paths document-first so the entry claims /index.html before
	// anything can collide with it.
	urlToPath := make(map[string]string)
	localPath := func(res *store.StoredResource) string {
		p := prefix + resolver.Resolve(
			res.Request.URL,
			res.Request.ResourceType,
			res.MimeType,
			crossOrigin(res.Request.URL, g.url),
			g.url,
		)
		urlToPath[stripFragment(res.Request.URL)] = p
		return p
	}

	var docPath string
	if g.doc != nil {
		docPath = localPath(g.doc)
	}
	type placed struct {
		res  store.StoredResource
		path string
	}
	var others []placed
	for _, res := range g.resources {
		others = append(others, placed{res: res, path: localPath(&res)})
	}

	rw := &rewriter{
		baseURL: g.url,
		resolve: func(abs string) string {
			return urlToPath[stripFragment(abs)]
		},
	}

	manifestPath := "/api.json"
	if docPath != "" {
		manifestPath = path.Join(path.Dir(docPath), "api.json")
	} else if prefix != "" {
		manifestPath = prefix + "/api.json"
	}

	if g.doc != nil {
		body, err := cs.ReadAll(g.doc.Ref)
		if err != nil {
			return fmt.Errorf("read document %s: %w", g.doc.Request.URL, err)
		}
		doc := rw.RewriteHTML(string(body))
		doc = injectBootstrap(doc, "api.json")
		ref, err := cs.Put([]byte(doc), content.Meta{URL: g.doc.Request.URL, MimeType: "text/html"})
		if err != nil {
			return fmt.Errorf("store document %s: %w", g.doc.Request.URL, err)
		}
		result.Files = append(result.Files, File{
			Path:     docPath,
			MimeType: "text/html",
			Size:     int64(len(doc)),
			Ref:      ref,
			URL:      g.doc.Request.URL,
		})
		if isPrimary {
			result.EntryPath = docPath
			result.Title = extractTitle(doc)
		}
	}

	for _, p := range others {
		file := File{
			Path:     p.path,
			MimeType: p.res.MimeType,
			Size:     p.res.Size,
			Ref:      p.res.Ref,
			URL:      p.res.Request.URL,
		}
		switch p.res.Request.ResourceType {
		case event.TypeStylesheet:
			body, err := cs.ReadAll(p.res.Ref)
			if err != nil {
				return fmt.Errorf("read stylesheet %s: %w", p.res.Request.URL, err)
			}
			sheetRW := &rewriter{baseURL: p.res.Request.URL, resolve: rw.resolve}
			rewritten := sheetRW.RewriteCSS(string(body))
			if rewritten != string(body) {
				ref, err := cs.Put([]byte(rewritten), content.Meta{URL: p.res.Request.URL, MimeType: p.res.MimeType})
				if err != nil {
					return fmt.Errorf("store stylesheet %s: %w", p.res.Request.URL, err)
				}
				file.Ref = ref
				file.Size = int64(len(rewritten))
			}
		case event.TypeScript:
			body, err := cs.ReadAll(p.res.Ref)
			if err != nil {
				return fmt.Errorf("read script %s: %w", p.res.Request.URL, err)
			}
			scriptRW := &rewriter{baseURL: p.res.Request.URL, resolve: rw.resolve}
			if rewritten, changed := scriptRW.RewriteJS(string(body)); changed {
				ref, err := cs.Put([]byte(rewritten), content.Meta{URL: p.res.Request.URL, MimeType: p.res.MimeType})
				if err != nil {
					return fmt.Errorf("store script %s: %w", p.res.Request.URL, err)
				}
				file.Ref = ref
				file.Size = int64(len(rewritten))
			}
		}
		result.Files = append(result.Files, file)
	}

	// The manifest is always emitted, even when empty: the bootstrap
	// fetches it unconditionally.
	records := g.api
	if records == nil {
		records = []replay.ApiRecord{}
	}
	manifest := replay.Manifest{
		Version:   replay.ManifestVersion,
		URL:       g.url,
		CreatedAt: opts.Now().UnixMilli(),
		Records:   records,
	}
	data, err := sonic.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest for %s: %w", g.url, err)
	}
	ref, err := cs.Put(data, content.Meta{URL: g.url + "#api", MimeType: "application/json"})
	if err != nil {
		return fmt.Errorf("store manifest for %s: %w", g.url, err)
	}
	result.Files = append(result.Files, File{
		Path:     manifestPath,
		MimeType: "application/json",
		Size:     int64(len(data)),
		Ref:      ref,
		URL:      g.url,
	})
	return nil
}

// groupPrefix derives a multi-document group's path prefix from its
// document URL path, collapsing dot segments.
func groupPrefix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/" + shortHash(rawURL)
	}
	p := path.Clean("/" + u.Path)
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	if p == "/" || p == "." {
		return ""
	}
	return p
}

func crossOrigin(resourceURL, groupURL string) bool {
	ru, err := url.Parse(resourceURL)
	if err != nil {
		return false
	}
	gu, err := url.Parse(groupURL)
	if err != nil {
		return false
	}
	return !strings.EqualFold(ru.Hostname(), gu.Hostname())
}
