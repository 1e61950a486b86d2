package replay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/request_inspector/internal/reqlog"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

type stubDoer struct {
	resp  *types.Response
	err   error
	panic any
	got   types.SynthesizedRequest
}

func (d *stubDoer) Execute(_ context.Context, req types.SynthesizedRequest) (*types.Response, error) {
	d.got = req
	if d.panic != nil {
		panic(d.panic)
	}
	return d.resp, d.err
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) OnReplay(_ string, _ types.HostRequest, out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func newTestReplayer(doer Doer, obs Observer) (*Replayer, *reqlog.Log) {
	log := reqlog.New(16)
	return NewReplayer("tab-1", newTestSynth(log), doer, obs), log
}

func TestInterceptFulfilled(t *testing.T) {
	doer := &stubDoer{resp: &types.Response{
		StatusCode: 200,
		MediaType:  "text/html",
		Charset:    "UTF-8",
		Body:       io.NopCloser(strings.NewReader("ok")),
	}}
	obs := &recordingObserver{}
	r, log := newTestReplayer(doer, obs)
	log.Append(types.RequestRecord{Kind: types.KindXMLHTTPRequest, URL: "/data", Method: "GET"})

	out := r.Intercept(context.Background(), types.HostRequest{URL: "https://host/data", Method: "GET"})
	if out.Deferred {
		t.Fatalf("Intercept() deferred: %s", out.Reason)
	}
	if out.Response == nil || out.StatusCode != 200 {
		t.Fatalf("Intercept() = %+v", out)
	}
	if doer.got.Kind != types.KindXMLHTTPRequest {
		t.Fatalf("executor saw kind %q", doer.got.Kind)
	}

	stats := r.Stats()
	if stats.Intercepted != 1 || stats.Correlated != 1 || stats.Fulfilled != 1 || stats.Deferred != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0].Deferred {
		t.Fatalf("observer outcomes = %+v", obs.outcomes)
	}
}

func TestInterceptDefersOnNonSuccess(t *testing.T) {
	doer := &stubDoer{err: &StatusError{StatusCode: 404, Status: "404 Not Found"}}
	r, _ := newTestReplayer(doer, nil)

	out := r.Intercept(context.Background(), types.HostRequest{URL: "https://host/missing", Method: "GET"})
	if !out.Deferred || out.Response != nil {
		t.Fatalf("Intercept() = %+v; want deferred", out)
	}
	if out.StatusCode != 404 {
		t.Fatalf("StatusCode = %d; want 404", out.StatusCode)
	}
	if out.Request.Kind != types.KindPageNavigation {
		t.Fatalf("Request.Kind = %q", out.Request.Kind)
	}
	if stats := r.Stats(); stats.Deferred != 1 || stats.Fulfilled != 0 || stats.Correlated != 0 {
		t.Fatalf("Stats() = %+v", stats)
	}
}

func TestInterceptDefersOnNetworkError(t *testing.T) {
	doer := &stubDoer{err: errors.New("dial tcp: connection refused")}
	r, _ := newTestReplayer(doer, nil)

	out := r.Intercept(context.Background(), types.HostRequest{URL: "https://host/", Method: "GET"})
	if !out.Deferred || out.StatusCode != 0 {
		t.Fatalf("Intercept() = %+v", out)
	}
	if !strings.Contains(out.Reason, "connection refused") {
		t.Fatalf("Reason = %q", out.Reason)
	}
}

func TestInterceptRecoversPanic(t *testing.T) {
	doer := &stubDoer{panic: "boom"}
	obs := &recordingObserver{}
	r, _ := newTestReplayer(doer, obs)

	out := r.Intercept(context.Background(), types.HostRequest{URL: "https://host/", Method: "POST"})
	if !out.Deferred {
		t.Fatalf("Intercept() = %+v; want deferred", out)
	}
	if !strings.Contains(out.Reason, "boom") {
		t.Fatalf("Reason = %q", out.Reason)
	}
	if out.Request.URL != "https://host/" {
		t.Fatalf("Request was lost on panic: %+v", out.Request)
	}
	if len(obs.outcomes) != 1 {
		t.Fatalf("observer called %d times; want 1", len(obs.outcomes))
	}
	if stats := r.Stats(); stats.Deferred != 1 {
		t.Fatalf("Stats() = %+v", stats)
	}
}
