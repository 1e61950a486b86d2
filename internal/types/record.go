package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RequestKind identifies which page mechanism produced a request.
type RequestKind string

const (
	KindPageNavigation RequestKind = "page_navigation"
	KindXMLHTTPRequest RequestKind = "xml_http_request"
	KindFetch          RequestKind = "fetch"
	KindFormSubmission RequestKind = "form_submission"
)

// EncodingMode is the form encoding a submission was captured with.
type EncodingMode string

const (
	EncodingNone       EncodingMode = ""
	EncodingURLEncoded EncodingMode = "urlencoded"
	EncodingMultipart  EncodingMode = "multipart"
	EncodingPlainText  EncodingMode = "plaintext"
)

// FormField is one form control as reported by page script.
type FormField struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Checked bool   `json:"checked,omitempty"`
}

// RequestRecord is a single script-originated request observation.
// Records are built once and never modified after they enter a log.
type RequestRecord struct {
	ID           string            `json:"id"`
	CapturedAt   time.Time         `json:"captured_at"`
	Kind         RequestKind       `json:"kind"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Body         string            `json:"body,omitempty"`
	FormFields   map[string]string `json:"form_fields,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Trace        string            `json:"trace,omitempty"`
	EncodingMode EncodingMode      `json:"encoding_mode,omitempty"`
}

// String renders the record for debug logs.
func (r RequestRecord) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kind=%s method=%s url=%s body_bytes=%d", r.Kind, r.Method, r.URL, len(r.Body))
	if r.EncodingMode != EncodingNone {
		fmt.Fprintf(&sb, " encoding=%s", r.EncodingMode)
	}
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintf(&sb, " headers=[%s]", strings.Join(keys, ","))
	}
	if frames := TraceFrames(r.Trace); len(frames) > 0 {
		fmt.Fprintf(&sb, " origin=%q", frames[0])
	}
	return sb.String()
}

// TraceFrames returns the trimmed stack frames of a JavaScript Error.stack
// string, dropping the leading "Error" line.
func TraceFrames(trace string) []string {
	if trace == "" {
		return nil
	}
	lines := strings.Split(trace, "\n")
	frames := make([]string, 0, len(lines))
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if line = strings.TrimSpace(line); line != "" {
			frames = append(frames, line)
		}
	}
	return frames
}
