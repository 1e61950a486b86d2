package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/request_inspector/internal/config"
	"github.com/dgnsrekt/request_inspector/internal/cookies"
	"github.com/dgnsrekt/request_inspector/internal/credential"
	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

type countingObserver struct {
	captures int
	replays  int
}

func (o *countingObserver) OnCapture(string, types.RequestRecord) { o.captures++ }

func (o *countingObserver) OnReplay(string, types.HostRequest, replay.Outcome) { o.replays++ }

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []replay.Outcome
	done     chan struct{}
	want     int
}

func (o *outcomeRecorder) OnCapture(string, types.RequestRecord) {}

func (o *outcomeRecorder) OnReplay(_ string, _ types.HostRequest, out replay.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
	if len(o.outcomes) == o.want {
		close(o.done)
	}
}

type failingDoer struct{}

func (failingDoer) Execute(context.Context, types.SynthesizedRequest) (*types.Response, error) {
	return nil, &replay.StatusError{StatusCode: 500, Status: "500 Internal Server Error"}
}

func newTestClient(t *testing.T, obs Observer, tabIDs ...string) *Client {
	t.Helper()
	cfg := &config.Config{LogCapacity: 8, ReplayTimeoutMS: 1000, BindingName: "RequestInspection"}
	c := NewClient(cfg, credential.Static("tok"), NewTabRegistry(), obs)
	for _, id := range tabIDs {
		if _, err := c.tabRegistry.Register(target.ID(id), "https://example.com/app/"+id); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.sessions[target.ID(id)] = newSession(ctx, cancel, target.ID(id), sessionOptions{
			logCapacity: cfg.LogCapacity,
			credentials: c.credentials,
			executor:    failingDoer{},
			observer:    c.observer,
			cookies:     cookies.None,
		})
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientLookupErrors(t *testing.T) {
	c := newTestClient(t, nil, "TAB-AAAA-0001")

	var coded *CodedError
	if _, err := c.Records("missing"); !errors.As(err, &coded) || coded.Code != CodeTabNotFound {
		t.Fatalf("Records(missing) error = %v; want %s", err, CodeTabNotFound)
	}
	if _, err := c.Session(""); !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("Session(\"\") error = %v; want %s", err, CodeValidation)
	}
	if _, err := c.Record("TAB-AAAA-0001", "nope"); !errors.As(err, &coded) || coded.Code != CodeRecordNotFound {
		t.Fatalf("Record(nope) error = %v; want %s", err, CodeRecordNotFound)
	}
	if _, _, err := c.Correlate("TAB-AAAA-0001", ""); !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("Correlate(empty url) error = %v; want %s", err, CodeValidation)
	}
}

func TestClientExposesSessionState(t *testing.T) {
	obs := &countingObserver{}
	c := newTestClient(t, obs, "TAB-BBBB-0002", "TAB-AAAA-0001")

	s, err := c.Session("TAB-AAAA-0001")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	s.bridge.OnXhr("/api/items", "GET", "", `{"X-A":"1"}`, "Error\n at f")

	recs, err := c.Records("TAB-AAAA-0001")
	if err != nil || len(recs) != 1 {
		t.Fatalf("Records() = %v, %v; want one record", recs, err)
	}
	got, err := c.Record("TAB-AAAA-0001", recs[0].ID)
	if err != nil || got.URL != "/api/items" {
		t.Fatalf("Record() = %+v, %v", got, err)
	}
	match, ok, err := c.Correlate("TAB-AAAA-0001", "https://example.com/api/items?x=1")
	if err != nil || !ok || match.ID != recs[0].ID {
		t.Fatalf("Correlate() = %+v, %v, %v", match, ok, err)
	}
	if other, _ := c.Records("TAB-BBBB-0002"); len(other) != 0 {
		t.Fatalf("sessions share state: %v", other)
	}

	out := s.replayer.Intercept(context.Background(), types.HostRequest{URL: "https://example.com/api/items", Method: "GET"})
	if !out.Deferred || out.StatusCode != 500 {
		t.Fatalf("Intercept() = %+v; want deferred 500", out)
	}
	if obs.captures != 1 || obs.replays != 1 {
		t.Fatalf("observer captures/replays = %d/%d; want 1/1", obs.captures, obs.replays)
	}

	tabs := c.Tabs()
	if len(tabs) != 2 || tabs[0].TargetID != "TAB-AAAA-0001" || tabs[0].BrowserID != "TAB-AAAA" {
		t.Fatalf("Tabs() = %+v", tabs)
	}
	stats := c.Stats()
	if len(stats) != 2 || stats[0].Records != 1 || stats[0].Replay.Deferred != 1 || stats[0].Replay.Correlated != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := newTestClient(t, nil, "TAB-AAAA-0001")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if c.GetTabCount() != 0 || c.tabRegistry.Count() != 0 {
		t.Fatalf("tabs remain after Close: %d/%d", c.GetTabCount(), c.tabRegistry.Count())
	}
}

func TestMatchesTabURL(t *testing.T) {
	c := &Client{cfg: &config.Config{TabURLFilter: "Example.com"}}
	if !c.matchesTabURL("https://www.example.com/login") {
		t.Fatal("filter should match case-insensitively")
	}
	if c.matchesTabURL("https://other.org/") {
		t.Fatal("filter should reject other hosts")
	}
	c.cfg.TabURLFilter = ""
	if !c.matchesTabURL("about:blank") {
		t.Fatal("empty filter should match everything")
	}
}

func TestHostRequestFromPaused(t *testing.T) {
	host := hostRequestFromPaused(&network.Request{
		URL:         "https://example.com/page",
		URLFragment: "#top",
		Method:      "POST",
		Headers:     network.Headers{"Accept": "text/html", "X-Count": 3},
	})
	if host.URL != "https://example.com/page#top" || host.Method != "POST" {
		t.Fatalf("host = %+v", host)
	}
	if host.Headers["Accept"] != "text/html" || host.Headers["X-Count"] != "3" {
		t.Fatalf("Headers = %v", host.Headers)
	}

	empty := hostRequestFromPaused(nil)
	if empty.Headers == nil || empty.URL != "" {
		t.Fatalf("nil request = %+v", empty)
	}
}

func TestReadLimited(t *testing.T) {
	body, err := readLimited(strings.NewReader("hello"), 5)
	if err != nil || string(body) != "hello" {
		t.Fatalf("readLimited() = %q, %v", body, err)
	}
	if _, err := readLimited(strings.NewReader("hello!"), 5); err == nil {
		t.Fatal("readLimited() error = nil; want size error")
	}
	body, err = readLimited(strings.NewReader("unbounded"), 0)
	if err != nil || string(body) != "unbounded" {
		t.Fatalf("readLimited(no limit) = %q, %v", body, err)
	}
}

func TestFulfillParams(t *testing.T) {
	resp := &types.Response{
		StatusCode: 201,
		StatusText: "Created",
		MediaType:  "application/json",
		Charset:    "UTF-8",
		Headers: map[string]string{
			"content-type": "text/plain",
			"X-B":          "b",
			"X-A":          "a",
		},
		Body: io.NopCloser(strings.NewReader("")),
	}
	params := fulfillParams(fetch.RequestID("interception-1"), resp, []byte(`{"ok":true}`))

	if params.RequestID != "interception-1" || params.ResponseCode != 201 || params.ResponsePhrase != "Created" {
		t.Fatalf("params = %+v", params)
	}
	decoded, err := base64.StdEncoding.DecodeString(params.Body)
	if err != nil || string(decoded) != `{"ok":true}` {
		t.Fatalf("Body = %q (%v)", decoded, err)
	}

	want := []fetch.HeaderEntry{
		{Name: "Content-Type", Value: "application/json; charset=UTF-8"},
		{Name: "X-A", Value: "a"},
		{Name: "X-B", Value: "b"},
	}
	if len(params.ResponseHeaders) != len(want) {
		t.Fatalf("ResponseHeaders = %d entries; want %d", len(params.ResponseHeaders), len(want))
	}
	for i, h := range params.ResponseHeaders {
		if *h != want[i] {
			t.Fatalf("header[%d] = %+v; want %+v", i, *h, want[i])
		}
	}
}

func TestCodedErrorUnwrap(t *testing.T) {
	cause := errors.New("dial failed")
	err := newError(CodeCDPUnavailable, "failed to connect to browser", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should reach the cause")
	}
	if err.Error() != "CDP_UNAVAILABLE: failed to connect to browser: dial failed" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEventHandlerCorrelatesBindingBeforePausedRequest(t *testing.T) {
	const n = 200
	rec := &outcomeRecorder{done: make(chan struct{}), want: n}
	c := newTestClient(t, rec)
	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(ctx, cancel, "TAB-AAAA-0001", sessionOptions{
		logCapacity: n,
		credentials: c.credentials,
		executor:    failingDoer{},
		observer:    c.observer,
		cookies:     cookies.None,
	})
	t.Cleanup(s.close)
	handler := c.createEventHandler(s)

	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/api/item-%d-end", i)
		handler(&runtime.EventBindingCalled{
			Name:    c.cfg.BindingName,
			Payload: fmt.Sprintf(`{"type":"xhr","url":%q,"method":"POST","body":"{}","headers":"{}","trace":""}`, path),
		})
		handler(&fetch.EventRequestPaused{
			RequestID: fetch.RequestID("interception-" + strconv.Itoa(i)),
			Request:   &network.Request{URL: "https://example.com" + path, Method: "POST"},
		})
	}

	select {
	case <-rec.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for replay outcomes")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, out := range rec.outcomes {
		if out.Request.CorrelatedID == "" {
			t.Fatalf("outcome for %s has no correlated record", out.Request.URL)
		}
	}
}

func TestEventHandlerIgnoresOtherBindings(t *testing.T) {
	c := newTestClient(t, nil, "TAB-AAAA-0001")
	s, err := c.Session("TAB-AAAA-0001")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	c.createEventHandler(s)(&runtime.EventBindingCalled{
		Name:    "SomethingElse",
		Payload: `{"type":"fetch","url":"/api/x","method":"GET","headers":"{}"}`,
	})
	if recs, _ := c.Records("TAB-AAAA-0001"); len(recs) != 0 {
		t.Fatalf("Records() = %v; want none", recs)
	}
}

func TestConnectHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	portNum, _ := strconv.Atoi(port)
	cfg := &config.Config{CDPAddress: host, CDPPort: portNum, LogCapacity: 8, ReplayTimeoutMS: 1000, BindingName: "RequestInspection"}
	c := NewClient(cfg, credential.Static("tok"), NewTabRegistry())
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx) }()

	select {
	case err := <-errCh:
		var coded *CodedError
		if !errors.As(err, &coded) || coded.Code != CodeCDPUnavailable {
			t.Fatalf("Connect() error = %v; want %s", err, CodeCDPUnavailable)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() ignored context cancellation")
	}
}
