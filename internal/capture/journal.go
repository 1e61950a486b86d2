// Package capture journals captured records and replay outcomes to JSONL
// files, one directory per page path.
package capture

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/storage"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

const redacted = "[REDACTED]"

// sensitiveHeaders never reach the journal in clear text.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
}

// BodyInfo describes a body that may have been cut to the journal limit.
type BodyInfo struct {
	Truncated    bool   `json:"truncated,omitempty"`
	OriginalSize int    `json:"original_size,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
}

// CaptureEntry is one journaled script-side request.
type CaptureEntry struct {
	Timestamp time.Time           `json:"timestamp"`
	TabID     string              `json:"tab_id"`
	Record    types.RequestRecord `json:"record"`
	Origin    string              `json:"origin,omitempty"`
	Body      BodyInfo            `json:"body_info"`
}

// ReplayEntry is one journaled interception.
type ReplayEntry struct {
	Timestamp       time.Time         `json:"timestamp"`
	TabID           string            `json:"tab_id"`
	HostURL         string            `json:"host_url"`
	HostMethod      string            `json:"host_method"`
	Kind            types.RequestKind `json:"kind"`
	CorrelatedID    string            `json:"correlated_id,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers"`
	RequestBody     string            `json:"request_body,omitempty"`
	Body            BodyInfo          `json:"body_info"`
	Deferred        bool              `json:"deferred"`
	Reason          string            `json:"reason,omitempty"`
	StatusCode      int               `json:"status_code,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	DurationMS      int64             `json:"duration_ms"`
}

// Journal writes capture and replay entries through a WriterRegistry. It
// satisfies both observer interfaces of the capture pipeline.
type Journal struct {
	registry     *storage.WriterRegistry
	tabRegistry  types.TabInfoProvider
	maxBodyBytes int

	now func() time.Time
}

func NewJournal(registry *storage.WriterRegistry, tabRegistry types.TabInfoProvider, maxBodyBytes int) *Journal {
	return &Journal{
		registry:     registry,
		tabRegistry:  tabRegistry,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// OnCapture journals a record appended to a tab's log.
func (j *Journal) OnCapture(tabID string, rec types.RequestRecord) {
	body, truncated, originalSize, bodyHash := truncateStringBytes(rec.Body, j.maxBodyBytes)
	rec.Body = body
	rec.Headers = redactHeaders(rec.Headers)

	entry := CaptureEntry{
		Timestamp: j.now().UTC(),
		TabID:     tabID,
		Record:    rec,
	}
	if frames := types.TraceFrames(rec.Trace); len(frames) > 0 {
		entry.Origin = frames[0]
	}
	if truncated {
		entry.Body = BodyInfo{Truncated: true, OriginalSize: originalSize, SHA256: bodyHash}
	}

	j.write(tabID, storage.DataTypeRequests, entry)
}

// OnReplay journals the outcome of one interception.
func (j *Journal) OnReplay(tabID string, host types.HostRequest, out replay.Outcome) {
	body, truncated, originalSize, bodyHash := truncateStringBytes(out.Request.Body, j.maxBodyBytes)

	entry := ReplayEntry{
		Timestamp:      j.now().UTC(),
		TabID:          tabID,
		HostURL:        host.URL,
		HostMethod:     host.Method,
		Kind:           out.Request.Kind,
		CorrelatedID:   out.Request.CorrelatedID,
		RequestHeaders: redactHeaders(out.Request.Headers),
		RequestBody:    body,
		Deferred:       out.Deferred,
		Reason:         out.Reason,
		StatusCode:     out.StatusCode,
		DurationMS:     out.Duration.Milliseconds(),
	}
	if truncated {
		entry.Body = BodyInfo{Truncated: true, OriginalSize: originalSize, SHA256: bodyHash}
	}
	if out.Response != nil {
		entry.ContentType = out.Response.ContentType()
		entry.ResponseHeaders = redactHeaders(out.Response.Headers)
	}

	j.write(tabID, storage.DataTypeReplays, entry)
}

func (j *Journal) write(tabID, dataType string, entry any) {
	tabInfo, ok := j.tabRegistry.GetByStringID(tabID)
	if !ok {
		tabInfo = &types.TabInfo{PathSegment: "unknown", BrowserID: "unknown"}
	}

	writer := j.registry.GetWriter(tabInfo.PathSegment, dataType, tabInfo.BrowserID)
	if err := writer.Write(entry); err != nil {
		slog.Error("Failed to journal entry", "tab_id", tabID, "data_type", dataType, "error", err)
	}
}

// redactHeaders returns a copy of headers with credential values masked.
func redactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if sensitiveHeaders[strings.ToLower(name)] && value != "" {
			value = redacted
		}
		out[name] = value
	}
	return out
}
