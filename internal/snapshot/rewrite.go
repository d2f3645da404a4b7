package snapshot

import (
	"net/url"
	"regexp"
	"strings"
)

// rewriter maps URL references inside captured text content onto snapshot
// paths. All transforms are token-level text rewrites, not full parsers:
// good enough for real-world markup, best-effort for exotic syntax.
type rewriter struct {
	// baseURL resolves relative references (the document or stylesheet URL).
	baseURL string
	// resolve maps an absolute URL to its local snapshot path, or "" when
	// the URL has no captured counterpart worth pointing at.
	resolve func(absURL string) string
}

var skippedValuePrefixes = []string{"data:", "blob:", "mailto:", "tel:", "javascript:", "#"}

// local resolves one raw reference value to a snapshot path. Returns the
// original value unchanged when it should not or cannot be rewritten.
func (rw *rewriter) local(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return raw
	}
	lower := strings.ToLower(value)
	for _, prefix := range skippedValuePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return raw
		}
	}
	abs := resolveAgainst(rw.baseURL, value)
	if abs == "" {
		return raw
	}
	if p := rw.resolve(abs); p != "" {
		return p
	}
	return raw
}

func resolveAgainst(base, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	bu, err := url.Parse(base)
	if err != nil || !bu.IsAbs() {
		return ""
	}
	return bu.ResolveReference(u).String()
}

// ---- HTML ----

var (
	attrRe        = regexp.MustCompile(`(?i)\b(src|href|poster|data)\s*=\s*("([^"]*)"|'([^']*)')`)
	srcsetRe      = regexp.MustCompile(`(?i)\bsrcset\s*=\s*("([^"]*)"|'([^']*)')`)
	styleTagRe    = regexp.MustCompile(`(?is)(<style[^>]*>)(.*?)(</style>)`)
	styleAttrRe   = regexp.MustCompile(`(?i)\bstyle\s*=\s*"([^"]*)"`)
	moduleTagRe   = regexp.MustCompile(`(?is)(<script[^>]*type\s*=\s*["']module["'][^>]*>)(.*?)(</script>)`)
	metaRefreshRe = regexp.MustCompile(`(?i)(<meta[^>]*http-equiv\s*=\s*["']?refresh["']?[^>]*content\s*=\s*["'])([^"']*)(["'])`)
	refreshURLRe  = regexp.MustCompile(`(?i)(url\s*=\s*)(\S+)`)
)

// RewriteHTML rewrites resource references in a document: src/href/srcset/
// poster/data attributes, inline and attribute CSS, module script
// specifiers, and meta-refresh targets.
func (rw *rewriter) RewriteHTML(doc string) string {
	out := attrRe.ReplaceAllStringFunc(doc, func(m string) string {
		groups := attrRe.FindStringSubmatch(m)
		value := groups[3]
		quote := `"`
		if value == "" && groups[4] != "" {
			value = groups[4]
			quote = `'`
		}
		return groups[1] + "=" + quote + rw.local(value) + quote
	})

	out = srcsetRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := srcsetRe.FindStringSubmatch(m)
		value := groups[2]
		quote := `"`
		if value == "" && groups[3] != "" {
			value = groups[3]
			quote = `'`
		}
		return "srcset=" + quote + rw.rewriteSrcset(value) + quote
	})

	out = styleTagRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := styleTagRe.FindStringSubmatch(m)
		return groups[1] + rw.RewriteCSS(groups[2]) + groups[3]
	})

	out = styleAttrRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := styleAttrRe.FindStringSubmatch(m)
		return `style="` + rw.RewriteCSS(groups[1]) + `"`
	})

	out = moduleTagRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := moduleTagRe.FindStringSubmatch(m)
		rewritten, _ := rw.RewriteJS(groups[2])
		return groups[1] + rewritten + groups[3]
	})

	out = metaRefreshRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := metaRefreshRe.FindStringSubmatch(m)
		content := refreshURLRe.ReplaceAllStringFunc(groups[2], func(u string) string {
			parts := refreshURLRe.FindStringSubmatch(u)
			return parts[1] + rw.local(parts[2])
		})
		return groups[1] + content + groups[3]
	})

	return out
}

// rewriteSrcset handles the comma-separated "url descriptor" list form.
func (rw *rewriter) rewriteSrcset(value string) string {
	entries := strings.Split(value, ",")
	for i, entry := range entries {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		fields[0] = rw.local(fields[0])
		entries[i] = strings.Join(fields, " ")
	}
	return strings.Join(entries, ", ")
}

// ---- CSS ----

var (
	cssURLRe    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+(['"])([^'"]+)(['"])`)
)

// RewriteCSS rewrites url(...) and @import references to local paths.
func (rw *rewriter) RewriteCSS(css string) string {
	out := cssURLRe.ReplaceAllStringFunc(css, func(m string) string {
		groups := cssURLRe.FindStringSubmatch(m)
		return "url(" + groups[1] + rw.local(groups[2]) + groups[3] + ")"
	})
	return cssImportRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := cssImportRe.FindStringSubmatch(m)
		return "@import " + groups[1] + rw.local(groups[2]) + groups[3]
	})
}

// ---- JS ----

var (
	jsStaticImportRe  = regexp.MustCompile(`(?m)(\bimport\b[^'";]*?\bfrom\s*)(['"])([^'"]+)(['"])`)
	jsBareImportRe    = regexp.MustCompile(`(?m)(\bimport\s*)(['"])([^'"]+)(['"])`)
	jsDynamicImportRe = regexp.MustCompile(`(\bimport\s*\(\s*)(['"])([^'"]+)(['"])(\s*\))`)
	jsExportFromRe    = regexp.MustCompile(`(?m)(\bexport\b[^'";]*?\bfrom\s*)(['"])([^'"]+)(['"])`)
)

// RewriteJS rewrites static, side-effect, and dynamic import specifiers.
// Bare module specifiers ("react") are left alone: they cannot resolve to a
// captured URL. Reports whether anything changed so callers can skip
// re-encoding untouched scripts.
func (rw *rewriter) RewriteJS(js string) (string, bool) {
	rewriteSpec := func(spec string) string {
		if !strings.HasPrefix(spec, ".") && !strings.HasPrefix(spec, "/") && !strings.Contains(spec, "://") {
			return spec
		}
		return rw.local(spec)
	}
	out := js
	for _, re := range []*regexp.Regexp{jsStaticImportRe, jsExportFromRe, jsBareImportRe} {
		out = re.ReplaceAllStringFunc(out, func(m string) string {
			groups := re.FindStringSubmatch(m)
			return groups[1] + groups[2] + rewriteSpec(groups[3]) + groups[4]
		})
	}
	out = jsDynamicImportRe.ReplaceAllStringFunc(out, func(m string) string {
		groups := jsDynamicImportRe.FindStringSubmatch(m)
		return groups[1] + groups[2] + rewriteSpec(groups[3]) + groups[4] + groups[5]
	})
	return out, out != js
}
