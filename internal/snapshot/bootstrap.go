package snapshot

import (
	"fmt"
	"regexp"
	"strings"
)

// bootstrapScript is the replay shim prepended to every rewritten document.
// It fetches the group's api.json once, mirrors the Go matcher's fallback
// ladder, and patches the network entry points to serve recorded responses.
// The guard object keeps double injection (frames sharing a context,
// repeated serialization) harmless.
const bootstrapScript = `<script data-pagepocket="bootstrap">
(function () {
  if (window.__pagepocketPatched) return;
  window.__pagepocketPatched = true;

  var manifestURL = %q;
  var records = [];
  var loaded = fetch(manifestURL)
    .then(function (r) { return r.json(); })
    .then(function (m) { records = (m && m.records) || []; })
    .catch(function () { records = []; });

  function variants(raw, base) {
    var out = [];
    function add(v) { if (v && out.indexOf(v) < 0) out.push(v); }
    function stripFrag(s) { var i = s.indexOf('#'); return i < 0 ? s : s.slice(0, i); }
    function stripSlash(s) { return s.length > 1 ? s.replace(/\/+$/, '') : s; }
    add(raw); add(stripFrag(raw)); add(stripSlash(stripFrag(raw)));
    try {
      var u = new URL(raw, base);
      var abs = u.href;
      add(abs); add(stripFrag(abs)); add(stripSlash(stripFrag(abs)));
      add(u.pathname + u.search);
      add(u.pathname);
    } catch (e) {}
    return out;
  }

  function overlap(a, b) {
    for (var i = 0; i < a.length; i++) if (b.indexOf(a[i]) >= 0) return true;
    return false;
  }

  function recordBody(rec) { return rec.requestBody || rec.requestBodyBase64 || ''; }

  function match(method, url, body) {
    var want = variants(url, location.href);
    var ladder = [
      [method, body || ''], [method, ''], ['GET', ''], ['GET', body || '']
    ];
    for (var s = 0; s < ladder.length; s++) {
      for (var i = 0; i < records.length; i++) {
        var rec = records[i];
        if ((rec.method || 'GET').toUpperCase() !== ladder[s][0].toUpperCase()) continue;
        if (!overlap(want, variants(rec.url, location.href))) continue;
        if (ladder[s][1] && recordBody(rec) !== ladder[s][1]) continue;
        return rec;
      }
    }
    return null;
  }

  function decodeBody(rec) {
    if (rec.responseBodyBase64) {
      var bin = atob(rec.responseBodyBase64);
      var bytes = new Uint8Array(bin.length);
      for (var i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
      return bytes.buffer;
    }
    return rec.responseBody || '';
  }

  var realFetch = window.fetch;
  window.fetch = function (input, init) {
    var url = typeof input === 'string' ? input : (input && input.url) || '';
    var method = (init && init.method) || (input && input.method) || 'GET';
    var body = (init && typeof init.body === 'string') ? init.body : '';
    return loaded.then(function () {
      var rec = match(method, url, body);
      if (!rec) return realFetch.call(window, input, init);
      return new Response(decodeBody(rec), {
        status: rec.status || 200,
        statusText: rec.statusText || '',
        headers: rec.responseHeaders || {}
      });
    });
  };

  var RealXHR = window.XMLHttpRequest;
  function PatchedXHR() {
    var xhr = new RealXHR();
    var self = this, method = 'GET', url = '';
    this.open = function (m, u) { method = m; url = u; RealXHR.prototype.open.apply(xhr, arguments); };
    this.send = function (body) {
      var payload = typeof body === 'string' ? body : '';
      loaded.then(function () {
        var rec = match(method, url, payload);
        if (!rec) { xhr.send(body); return; }
        Object.defineProperty(self, 'status', { value: rec.status || 200 });
        Object.defineProperty(self, 'responseText', { value: rec.responseBody || '' });
        Object.defineProperty(self, 'readyState', { value: 4 });
        if (typeof self.onreadystatechange === 'function') self.onreadystatechange();
        if (typeof self.onload === 'function') self.onload();
      });
    };
    ['setRequestHeader', 'abort', 'getAllResponseHeaders', 'getResponseHeader'].forEach(function (name) {
      self[name] = function () { return xhr[name].apply(xhr, arguments); };
    });
  }
  window.XMLHttpRequest = PatchedXHR;

  if (navigator.sendBeacon) {
    navigator.sendBeacon = function () { return true; };
  }
  window.WebSocket = function () {
    return { send: function () {}, close: function () {}, addEventListener: function () {} };
  };
  window.EventSource = function () {
    return { close: function () {}, addEventListener: function () {} };
  };
})();
</script>
`

// injectBootstrap prepends the replay shim, preferring the spot right after
// <head> so it runs before any inline script.
func injectBootstrap(doc, manifestPath string) string {
	script := fmt.Sprintf(bootstrapScript, manifestPath)
	if loc := headOpenRe.FindStringIndex(doc); loc != nil {
		return doc[:loc[1]] + script + doc[loc[1]:]
	}
	return script + doc
}

var headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)

// extractTitle pulls the document title for snapshot metadata.
func extractTitle(doc string) string {
	m := titleRe.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
