// Package credential supplies the bearer token attached to every replayed
// request. Token issuance and refresh belong to the embedding host; this
// package only reads what the host provides.
package credential

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Source returns the current access token.
type Source interface {
	AccessToken() string
}

// Static is a fixed token.
type Static string

func (s Static) AccessToken() string { return string(s) }

// FileSource reads the token from a file, re-reading it whenever the file's
// modification time changes so an external refresher can rotate it.
type FileSource struct {
	path string

	mu      sync.Mutex
	token   string
	modTime time.Time
}

// NewFileSource creates a FileSource and performs the first read.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) AccessToken() string {
	if err := s.reload(); err != nil {
		slog.Warn("credential: token file reload failed, using cached token", "path", s.path, "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *FileSource) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat token file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !info.ModTime().After(s.modTime) && s.token != "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	s.token = strings.TrimSpace(string(data))
	s.modTime = info.ModTime()
	slog.Info("credential: token loaded", "path", s.path, "expires_at", formatExpiry(s.token))
	return nil
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens and JWTs without exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func formatExpiry(token string) string {
	if exp, ok := ExpiresAt(token); ok {
		return exp.UTC().Format(time.RFC3339)
	}
	return "unknown"
}

// ExpiryWatch wraps a Source and logs a warning once per token when the
// token it hands out is an expired JWT. The token is still returned; the
// host is trusted to supply a usable credential.
type ExpiryWatch struct {
	src Source
	now func() time.Time

	mu     sync.Mutex
	warned string
}

// WatchExpiry wraps src.
func WatchExpiry(src Source) *ExpiryWatch {
	return &ExpiryWatch{src: src, now: time.Now}
}

func (w *ExpiryWatch) AccessToken() string {
	token := w.src.AccessToken()
	exp, ok := ExpiresAt(token)
	if !ok || w.now().Before(exp) {
		return token
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.warned != token {
		w.warned = token
		slog.Warn("credential: access token has expired", "expired_at", exp.UTC().Format(time.RFC3339))
	}
	return token
}

// FromConfig picks a file source when tokenFile is set, otherwise the static
// token. Both are wrapped with expiry warnings.
func FromConfig(token, tokenFile string) (Source, error) {
	if tokenFile != "" {
		fs, err := NewFileSource(tokenFile)
		if err != nil {
			return nil, err
		}
		return WatchExpiry(fs), nil
	}
	if token == "" {
		slog.Warn("credential: no access token configured, replayed requests will carry an empty bearer token")
	}
	return WatchExpiry(Static(token)), nil
}
