// Package replay holds the recorded API traffic model and the offline
// request matcher used both when building a snapshot's api.json manifest
// and by the replay bootstrap injected into rewritten documents.
package replay

import "github.com/mistricky/pagepocket-sub000/internal/event"

// ManifestVersion is the api.json format version.
const ManifestVersion = "1.0"

// Encoding values for request/response bodies that did not survive a strict
// UTF-8 decode.
const EncodingBase64 = "base64"

// ApiRecord is one recorded fetch/xhr exchange. API traffic is replayed
// programmatically at playback time instead of being served as a static
// file, which is why it lives apart from stored resources.
type ApiRecord struct {
	URL                string          `json:"url"`
	Method             string          `json:"method"`
	RequestHeaders     event.HeaderMap `json:"requestHeaders,omitempty"`
	RequestBody        string          `json:"requestBody,omitempty"`
	RequestBodyBase64  string          `json:"requestBodyBase64,omitempty"`
	RequestEncoding    string          `json:"requestEncoding,omitempty"`
	Status             int             `json:"status,omitempty"`
	StatusText         string          `json:"statusText,omitempty"`
	ResponseHeaders    event.HeaderMap `json:"responseHeaders,omitempty"`
	ResponseBody       string          `json:"responseBody,omitempty"`
	ResponseBodyBase64 string          `json:"responseBodyBase64,omitempty"`
	ResponseEncoding   string          `json:"responseEncoding,omitempty"`
	Error              string          `json:"error,omitempty"`
	Timestamp          int64           `json:"timestamp"`

	// Attribution used during snapshot grouping, not part of the manifest.
	FrameID   string `json:"-"`
	Initiator string `json:"-"`
}

// recordedRequestBody returns whichever request body field is populated.
func (r *ApiRecord) recordedRequestBody() string {
	if r.RequestBody != "" {
		return r.RequestBody
	}
	return r.RequestBodyBase64
}

// Manifest is the persisted api.json format, one per document group.
type Manifest struct {
	Version   string      `json:"version"`
	URL       string      `json:"url"`
	CreatedAt int64       `json:"createdAt"` // epoch milliseconds
	Records   []ApiRecord `json:"records"`
}
