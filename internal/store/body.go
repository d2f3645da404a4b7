package store

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/mistricky/pagepocket-sub000/internal/replay"
)

// textMimeFamilies are MIME fragments whose bodies are stored as text in
// API records. Anything else (or anything that is not valid UTF-8) is
// stored base64-encoded with an explicit encoding tag.
var textMimeFamilies = []string{"text/", "json", "xml", "javascript", "svg"}

// binaryMimePrefixes mark content that is binary regardless of decode
// success, used when a response carries no usable MIME at all.
var binaryMimePrefixes = []string{
	"image/", "video/", "audio/", "font/",
	"application/octet-stream",
	"application/pdf",
	"application/zip",
	"application/gzip",
	"application/wasm",
}

// IsTextMime reports whether a MIME type belongs to a recognized text family.
func IsTextMime(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	for _, family := range textMimeFamilies {
		if strings.Contains(mt, family) {
			return true
		}
	}
	return false
}

// IsBinaryMime reports whether a MIME type is a known binary family.
func IsBinaryMime(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	for _, prefix := range binaryMimePrefixes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

// classifyBody splits a body into (text, base64, encoding) for an API
// record: strict UTF-8 decode plus a recognized text MIME keeps it as text,
// everything else becomes base64 with the encoding tag set.
func classifyBody(body []byte, mimeType string) (text, b64, encoding string) {
	if len(body) == 0 {
		return "", "", ""
	}
	if utf8.Valid(body) && (mimeType == "" || IsTextMime(mimeType)) {
		return string(body), "", ""
	}
	return "", base64.StdEncoding.EncodeToString(body), replay.EncodingBase64
}
