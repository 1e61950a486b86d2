// Package bridge is the capture side of the inspector: page script reports
// form submissions, XHRs and fetches through it and each report becomes one
// record in the page session's request log.
package bridge

import (
	"log/slog"
	"maps"
	"strings"

	"github.com/dgnsrekt/request_inspector/internal/formenc"
	"github.com/dgnsrekt/request_inspector/internal/types"
	"github.com/tidwall/gjson"
)

// DefaultBindingName is the global function page script calls to report requests.
const DefaultBindingName = "RequestInspection"

// Store receives finished records.
type Store interface {
	Append(rec types.RequestRecord) types.RequestRecord
}

// Observer is notified after a record has been stored.
type Observer interface {
	OnCapture(tabID string, rec types.RequestRecord)
}

// Bridge turns script notifications into request records. None of its entry
// points return errors; bad input is logged and dropped.
type Bridge struct {
	tabID    string
	store    Store
	observer Observer
}

// New creates a bridge for one page session. observer may be nil.
func New(tabID string, store Store, observer Observer) *Bridge {
	return &Bridge{tabID: tabID, store: store, observer: observer}
}

// OnFormSubmit records a form submission. fieldListJSON is a JSON array of
// {name, value, type, checked} objects; enctype is the form's encoding.
func (b *Bridge) OnFormSubmit(url, method, fieldListJSON, headersJSON, trace, enctype string) {
	if url == "" {
		slog.Warn("bridge: form submission without url dropped", "tab_id", b.tabID)
		return
	}
	fields, ok := parseFormFields(fieldListJSON)
	if !ok {
		slog.Error("bridge: malformed form field list, submission dropped", "tab_id", b.tabID, "url", url)
		return
	}
	headers := ParseHeaders(headersJSON)

	var body string
	mode, err := formenc.ParseMode(enctype)
	if err != nil {
		slog.Warn("bridge: incorrect form encoding, storing empty body", "tab_id", b.tabID, "enctype", enctype)
	} else {
		encoded, encHeaders, err := formenc.Encode(mode, fields)
		if err != nil {
			slog.Warn("bridge: form encoding failed", "tab_id", b.tabID, "error", err)
		}
		body = encoded
		maps.Copy(headers, encHeaders)
	}

	b.commit(types.RequestRecord{
		Kind:         types.KindFormSubmission,
		URL:          url,
		Method:       method,
		Body:         body,
		FormFields:   formenc.FieldMap(fields),
		Headers:      headers,
		Trace:        trace,
		EncodingMode: mode,
	})
}

// OnXhr records an XMLHttpRequest send.
func (b *Bridge) OnXhr(url, method, body, headersJSON, trace string) {
	b.recordScriptRequest(types.KindXMLHTTPRequest, url, method, body, headersJSON, trace)
}

// OnFetch records a window.fetch call.
func (b *Bridge) OnFetch(url, method, body, headersJSON, trace string) {
	b.recordScriptRequest(types.KindFetch, url, method, body, headersJSON, trace)
}

func (b *Bridge) recordScriptRequest(kind types.RequestKind, url, method, body, headersJSON, trace string) {
	if url == "" {
		slog.Warn("bridge: request without url dropped", "tab_id", b.tabID, "kind", kind)
		return
	}
	b.commit(types.RequestRecord{
		Kind:       kind,
		URL:        url,
		Method:     method,
		Body:       body,
		FormFields: map[string]string{},
		Headers:    ParseHeaders(headersJSON),
		Trace:      trace,
	})
}

func (b *Bridge) commit(rec types.RequestRecord) {
	rec = b.store.Append(rec)
	slog.Info("bridge: recorded request", "tab_id", b.tabID, "kind", rec.Kind, "method", rec.Method, "url", rec.URL, "id", rec.ID)
	slog.Debug("bridge: record detail", "tab_id", b.tabID, "record", rec.String())
	if b.observer != nil {
		b.observer.OnCapture(b.tabID, rec)
	}
}

// ParseHeaders reads a flat JSON object into a header map with lower-cased
// keys. Keys are visited in document order, so of two keys differing only by
// case the later one wins. Malformed input yields an empty map.
func ParseHeaders(headersJSON string) map[string]string {
	headers := make(map[string]string)
	if !gjson.Valid(headersJSON) {
		slog.Error("bridge: error parsing headers", "input_bytes", len(headersJSON))
		return headers
	}
	parsed := gjson.Parse(headersJSON)
	if !parsed.IsObject() {
		slog.Error("bridge: headers are not a JSON object", "type", parsed.Type.String())
		return headers
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		headers[strings.ToLower(key.String())] = jsonString(value)
		return true
	})
	return headers
}

// parseFormFields decodes a JSON array of field descriptors. Non-object
// entries are skipped; anything other than an array is malformed.
func parseFormFields(fieldListJSON string) ([]types.FormField, bool) {
	if !gjson.Valid(fieldListJSON) {
		return nil, false
	}
	parsed := gjson.Parse(fieldListJSON)
	if !parsed.IsArray() {
		return nil, false
	}
	fields := make([]types.FormField, 0, len(parsed.Array()))
	parsed.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		fields = append(fields, types.FormField{
			Name:    jsonString(item.Get("name")),
			Value:   jsonString(item.Get("value")),
			Type:    jsonString(item.Get("type")),
			Checked: item.Get("checked").Bool(),
		})
		return true
	})
	return fields, true
}

// jsonString renders a JSON value as a header/field string: strings as-is,
// null or missing as "", everything else as its JSON text.
func jsonString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
