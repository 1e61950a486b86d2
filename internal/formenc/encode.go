// Package formenc turns captured form fields into request bodies the way a
// browser would for each form enctype.
package formenc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/request_inspector/internal/types"
	"github.com/google/uuid"
)

const (
	MIMEURLEncoded = "application/x-www-form-urlencoded"
	MIMEMultipart  = "multipart/form-data"
	MIMEPlainText  = "text/plain"

	boundaryPrefix = "----WebKitFormBoundary"
)

// ErrUnknownEncoding is returned, alongside an empty body, for an enctype
// this package cannot encode. It is a warning, not a failure.
var ErrUnknownEncoding = errors.New("unknown form encoding")

// ParseMode maps a short mode name or an HTML enctype to an EncodingMode.
func ParseMode(enctype string) (types.EncodingMode, error) {
	switch strings.ToLower(strings.TrimSpace(enctype)) {
	case string(types.EncodingURLEncoded), MIMEURLEncoded:
		return types.EncodingURLEncoded, nil
	case string(types.EncodingMultipart), MIMEMultipart:
		return types.EncodingMultipart, nil
	case string(types.EncodingPlainText), MIMEPlainText:
		return types.EncodingPlainText, nil
	}
	return types.EncodingNone, fmt.Errorf("%w: %q", ErrUnknownEncoding, enctype)
}

// Included reports whether a field takes part in submission. Unchecked radio
// buttons and checkboxes are left out.
func Included(f types.FormField) bool {
	if f.Type == "radio" || f.Type == "checkbox" {
		return f.Checked
	}
	return true
}

// Encode builds the body and the content-type header for mode. Multipart
// bodies get a fresh random boundary.
func Encode(mode types.EncodingMode, fields []types.FormField) (string, map[string]string, error) {
	return EncodeWithBoundary(mode, fields, NewBoundary())
}

// EncodeWithBoundary is Encode with a caller-chosen multipart boundary.
// The boundary is ignored by the other modes.
func EncodeWithBoundary(mode types.EncodingMode, fields []types.FormField, boundary string) (string, map[string]string, error) {
	headers := make(map[string]string, 1)
	switch mode {
	case types.EncodingURLEncoded:
		headers["content-type"] = MIMEURLEncoded
		return URLEncoded(fields), headers, nil
	case types.EncodingMultipart:
		headers["content-type"] = MIMEMultipart + "; boundary=" + boundary
		return Multipart(fields, boundary), headers, nil
	case types.EncodingPlainText:
		headers["content-type"] = MIMEPlainText
		return PlainText(fields), headers, nil
	}
	return "", headers, fmt.Errorf("%w: %q", ErrUnknownEncoding, mode)
}

// URLEncoded joins name=value pairs with '&', query-escaping each value.
// Values that are not valid UTF-8 cannot be percent-encoded as form data and
// are skipped.
func URLEncoded(fields []types.FormField) string {
	var sb strings.Builder
	for _, f := range fields {
		if !Included(f) {
			continue
		}
		if !utf8.ValidString(f.Value) {
			slog.Warn("skipping form field with invalid UTF-8 value", "field", f.Name)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}

// Multipart writes one form-data part per field followed by the closing
// delimiter.
func Multipart(fields []types.FormField, boundary string) string {
	var sb strings.Builder
	for _, f := range fields {
		if !Included(f) {
			continue
		}
		sb.WriteString("--")
		sb.WriteString(boundary)
		sb.WriteString("\r\nContent-Disposition: form-data; name=\"")
		sb.WriteString(f.Name)
		sb.WriteString("\"\r\n\r\n")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("--")
	sb.WriteString(boundary)
	sb.WriteString("--")
	return sb.String()
}

// PlainText writes unencoded name=value lines separated by '\n'.
func PlainText(fields []types.FormField) string {
	var sb strings.Builder
	for _, f := range fields {
		if !Included(f) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value)
	}
	return sb.String()
}

// NewBoundary returns a WebKit-style multipart boundary.
func NewBoundary() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return boundaryPrefix + id[:16]
}

// FieldMap returns the included fields keyed by name; later fields with the
// same name win.
func FieldMap(fields []types.FormField) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if Included(f) {
			out[f.Name] = f.Value
		}
	}
	return out
}
