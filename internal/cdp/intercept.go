package cdp

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

// handleRequestPaused answers one Fetch.requestPaused event. The request is
// either fulfilled with the replayed response or continued untouched. Every
// path ends in exactly one of the two so the page never hangs.
func (s *Session) handleRequestPaused(ev *fetch.EventRequestPaused) {
	host := hostRequestFromPaused(ev.Request)
	out := s.replayer.Intercept(s.ctx, host)
	if out.Deferred {
		s.continueRequest(ev.RequestID)
		return
	}
	defer out.Response.Body.Close()

	body, err := readLimited(out.Response.Body, s.maxResponseBytes)
	if err != nil {
		slog.Warn("Failed to read replayed body, deferring to browser", "tab_id", s.ID, "url", truncateURL(host.URL), "error", err)
		s.continueRequest(ev.RequestID)
		return
	}

	if err := chromedp.Run(s.ctx, fulfillParams(ev.RequestID, out.Response, body)); err != nil {
		slog.Warn("Failed to fulfill request, deferring to browser", "tab_id", s.ID, "url", truncateURL(host.URL), "error", err)
		s.continueRequest(ev.RequestID)
		return
	}
	slog.Debug("Fulfilled request", "tab_id", s.ID, "url", truncateURL(host.URL), "status", out.Response.StatusCode, "bytes", len(body))
}

func (s *Session) continueRequest(id fetch.RequestID) {
	if err := chromedp.Run(s.ctx, fetch.ContinueRequest(id)); err != nil {
		slog.Warn("Failed to continue request", "tab_id", s.ID, "request_id", id, "error", err)
	}
}

// hostRequestFromPaused converts the paused request into the replayer's
// input. Header values arrive as JSON scalars.
func hostRequestFromPaused(req *network.Request) types.HostRequest {
	host := types.HostRequest{Headers: make(map[string]string)}
	if req == nil {
		return host
	}
	host.URL = req.URL + req.URLFragment
	host.Method = req.Method
	for name, value := range req.Headers {
		host.Headers[name] = fmt.Sprint(value)
	}
	return host
}

// readLimited reads r fully, failing when it exceeds limit bytes. A limit
// of zero or less reads without bound.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

// fulfillParams builds the Fetch.fulfillRequest call for resp. The
// content type is rebuilt from the parsed media type and charset.
func fulfillParams(id fetch.RequestID, resp *types.Response, body []byte) *fetch.FulfillRequestParams {
	names := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		if strings.EqualFold(name, "Content-Type") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]*fetch.HeaderEntry, 0, len(names)+1)
	headers = append(headers, &fetch.HeaderEntry{Name: "Content-Type", Value: resp.ContentType()})
	for _, name := range names {
		headers = append(headers, &fetch.HeaderEntry{Name: name, Value: resp.Headers[name]})
	}

	params := fetch.FulfillRequest(id, int64(resp.StatusCode)).
		WithResponseHeaders(headers).
		WithBody(base64.StdEncoding.EncodeToString(body))
	if resp.StatusText != "" {
		params = params.WithResponsePhrase(resp.StatusText)
	}
	return params
}
