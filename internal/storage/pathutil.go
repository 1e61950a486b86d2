package storage

import (
	"net/url"
	"strings"
)

// TransformURLToPathSegment turns a page URL into a filesystem-safe
// directory name: "/account/settings/" becomes "account_settings" and an
// empty path becomes "root".
func TransformURLToPathSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return "root", nil
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return '_'
		case r == '.' || r == '-' || r == '_':
			return r
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, path), nil
}

// BrowserIDFromTargetID returns the first 8 chars of a CDP target ID.
func BrowserIDFromTargetID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}
