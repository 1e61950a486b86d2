// Package replay rebuilds intercepted page requests from their captured
// script-side counterparts and re-issues them upstream.
package replay

import (
	"strings"

	"github.com/dgnsrekt/request_inspector/internal/cookies"
	"github.com/dgnsrekt/request_inspector/internal/credential"
	"github.com/dgnsrekt/request_inspector/internal/reqlog"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

// JSONContentType is sent with every replayed PUT/POST body unless the
// synthesizer is told to preserve the captured encoding.
const JSONContentType = "application/json; charset=utf-8"

// Synthesizer merges a host request with its correlated capture.
type Synthesizer struct {
	correlator  reqlog.Correlator
	cookies     cookies.Source
	credentials credential.Source

	preserveEncoding bool
}

// SynthesizerOption customises a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithPreservedEncoding makes PUT/POST replays carry the captured
// content-type instead of JSON.
func WithPreservedEncoding(enabled bool) SynthesizerOption {
	return func(s *Synthesizer) { s.preserveEncoding = enabled }
}

// NewSynthesizer creates a Synthesizer. A nil cookie source sends no cookies.
func NewSynthesizer(correlator reqlog.Correlator, cookieSrc cookies.Source, creds credential.Source, opts ...SynthesizerOption) *Synthesizer {
	if cookieSrc == nil {
		cookieSrc = cookies.None
	}
	s := &Synthesizer{correlator: correlator, cookies: cookieSrc, credentials: creds}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize builds the outbound request for host.
//
// Header precedence, lowest first: cookie store, captured headers, host
// headers. The bearer token is applied after the merge and always wins.
func (s *Synthesizer) Synthesize(host types.HostRequest) types.SynthesizedRequest {
	correlated, found := s.correlator.FindCorrelated(host.URL)

	req := types.SynthesizedRequest{
		Kind:    types.KindPageNavigation,
		URL:     host.URL,
		Method:  host.Method,
		Headers: map[string]string{"cookie": s.cookies.CookiesFor(host.URL)},
	}
	if found {
		req.Kind = correlated.Kind
		req.CorrelatedID = correlated.ID
		req.Body = correlated.Body
		mergeHeaders(req.Headers, correlated.Headers)
	}
	mergeHeaders(req.Headers, host.Headers)

	req.Headers["authorization"] = "Bearer " + s.credentials.AccessToken()

	if req.HasPayload() {
		contentType := JSONContentType
		if s.preserveEncoding && found && correlated.Headers["content-type"] != "" {
			contentType = correlated.Headers["content-type"]
		}
		req.Headers["content-type"] = contentType
	}
	return req
}

// mergeHeaders copies src into dst with lower-cased keys, overwriting.
func mergeHeaders(dst, src map[string]string) {
	for k, v := range src {
		dst[strings.ToLower(k)] = v
	}
}
