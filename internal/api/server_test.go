package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/request_inspector/internal/cdp"
	"github.com/dgnsrekt/request_inspector/internal/events"
	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

type stubService struct {
	records map[string][]types.RequestRecord
}

func (s *stubService) Tabs() []types.TabInfo {
	return []types.TabInfo{{TargetID: "T1", URL: "https://example.com/app", PathSegment: "app", BrowserID: "T1"}}
}

func (s *stubService) Records(tabID string) ([]types.RequestRecord, error) {
	recs, ok := s.records[tabID]
	if !ok {
		return nil, &cdp.CodedError{Code: cdp.CodeTabNotFound, Message: "tab not attached"}
	}
	return recs, nil
}

func (s *stubService) Record(tabID, requestID string) (types.RequestRecord, error) {
	recs, err := s.Records(tabID)
	if err != nil {
		return types.RequestRecord{}, err
	}
	for _, rec := range recs {
		if rec.ID == requestID {
			return rec, nil
		}
	}
	return types.RequestRecord{}, &cdp.CodedError{Code: cdp.CodeRecordNotFound, Message: "not found"}
}

func (s *stubService) Correlate(tabID, url string) (types.RequestRecord, bool, error) {
	recs, err := s.Records(tabID)
	if err != nil {
		return types.RequestRecord{}, false, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if strings.Contains(url, recs[i].URL) {
			return recs[i], true, nil
		}
	}
	return types.RequestRecord{}, false, nil
}

func (s *stubService) Stats() []cdp.TabStats {
	return []cdp.TabStats{{TabID: "T1", Records: len(s.records["T1"]), Replay: replay.Stats{Intercepted: 3, Deferred: 1}}}
}

func newTestServer() http.Handler {
	svc := &stubService{records: map[string][]types.RequestRecord{
		"T1": {
			{ID: "a", Kind: types.KindXMLHTTPRequest, URL: "/api/a", Method: "GET"},
			{ID: "b", Kind: types.KindFetch, URL: "/api/b", Method: "POST"},
			{ID: "c", Kind: types.KindFetch, URL: "/api", Method: "GET"},
		},
	}}
	return NewServer(svc, events.NewBroker())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := get(t, newTestServer(), "/docs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHealthAndTabs(t *testing.T) {
	h := newTestServer()
	if w := get(t, h, "/health"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("/health = %d %s", w.Code, w.Body.String())
	}

	w := get(t, h, "/api/v1/tabs")
	if w.Code != http.StatusOK {
		t.Fatalf("/api/v1/tabs status = %d", w.Code)
	}
	var body struct {
		Tabs []types.TabInfo `json:"tabs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tabs) != 1 || body.Tabs[0].TargetID != "T1" {
		t.Fatalf("tabs = %+v", body.Tabs)
	}
}

func TestListRequestsFilters(t *testing.T) {
	w := get(t, newTestServer(), "/api/v1/tabs/T1/requests?kind=fetch&limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Total    int                   `json:"total"`
		Requests []types.RequestRecord `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Requests) != 1 || body.Requests[0].ID != "c" {
		t.Fatalf("body = %+v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer()
	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/tabs/missing/requests", http.StatusNotFound},
		{"/api/v1/tabs/T1/requests/zzz", http.StatusNotFound},
		{"/api/v1/tabs/T1/requests?kind=bogus", http.StatusUnprocessableEntity},
		{"/api/v1/tabs/T1/correlate", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if w := get(t, h, tt.path); w.Code != tt.want {
			t.Fatalf("GET %s = %d; want %d (%s)", tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestCorrelateEndpoint(t *testing.T) {
	w := get(t, newTestServer(), "/api/v1/tabs/T1/correlate?url=https%3A%2F%2Fexample.com%2Fapi%2Fa%3Fx%3D1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Matched bool                 `json:"matched"`
		Record  *types.RequestRecord `json:"record"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// "/api" is newer than "/api/a" and is also a substring, so it wins.
	if !body.Matched || body.Record == nil || body.Record.ID != "c" {
		t.Fatalf("body = %+v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	w := get(t, newTestServer(), "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Tabs         []cdp.TabStats `json:"tabs"`
		EventClients int            `json:"event_clients"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tabs) != 1 || body.Tabs[0].Replay.Intercepted != 3 || body.Tabs[0].Records != 3 {
		t.Fatalf("body = %+v", body)
	}
}

func TestRequestLoggerRecordsRouteParams(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(oldLogger) })

	h := newTestServer()
	if w := get(t, h, "/api/v1/tabs/T1/requests/a"); w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	line := buf.String()
	for _, want := range []string{"level=INFO", "tab_id=T1", "record_id=a", "status=200"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}

	buf.Reset()
	get(t, h, "/api/v1/tabs/T1/requests/zzz")
	if line := buf.String(); !strings.Contains(line, "level=WARN") || !strings.Contains(line, "status=404") {
		t.Fatalf("log line %q; want WARN with status=404", line)
	}

	buf.Reset()
	get(t, h, "/health")
	if buf.Len() != 0 {
		t.Fatalf("health check logged at default level: %q", buf.String())
	}
}

func TestAccessLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/v1/tabs", 200, slog.LevelInfo},
		{"/health", 200, slog.LevelDebug},
		{"/health", 503, slog.LevelError},
		{"/api/v1/tabs/x/requests", 404, slog.LevelWarn},
		{"/api/v1/stats", 500, slog.LevelError},
	}
	for _, tt := range tests {
		if got := accessLevel(tt.path, tt.status); got != tt.want {
			t.Fatalf("accessLevel(%q, %d) = %v; want %v", tt.path, tt.status, got, tt.want)
		}
	}
}
