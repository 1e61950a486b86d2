// Package cookies provides the cookie header for a URL the way the page's
// own cookie store would send it.
package cookies

import (
	"net/http"
	"strings"
)

// Source returns the Cookie header value for a URL, "" when there is none.
type Source interface {
	CookiesFor(rawURL string) string
}

// SourceFunc adapts a function to Source.
type SourceFunc func(rawURL string) string

func (f SourceFunc) CookiesFor(rawURL string) string { return f(rawURL) }

// None never returns cookies.
var None Source = SourceFunc(func(string) string { return "" })

// Header joins cookies into a Cookie request header value.
func Header(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
