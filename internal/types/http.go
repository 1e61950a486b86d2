package types

import (
	"io"
	"strings"
)

// HostRequest is what the interception hook reports for a resource load.
type HostRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SynthesizedRequest is the outbound request built from a host request and
// its correlated capture, if any.
type SynthesizedRequest struct {
	Kind         RequestKind       `json:"kind"`
	CorrelatedID string            `json:"correlated_id,omitempty"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body,omitempty"`
}

// HasPayload reports whether the method carries the body upstream.
func (s SynthesizedRequest) HasPayload() bool {
	return strings.EqualFold(s.Method, "POST") || strings.EqualFold(s.Method, "PUT")
}

// Response is a reconstructed upstream response handed back to the host.
// The caller owns Body and must close it.
type Response struct {
	StatusCode int
	StatusText string
	MediaType  string
	Charset    string
	Headers    map[string]string
	Body       io.ReadCloser
}

// ContentType joins media type and charset back into a header value.
func (r *Response) ContentType() string {
	if r.Charset == "" {
		return r.MediaType
	}
	return r.MediaType + "; charset=" + r.Charset
}
