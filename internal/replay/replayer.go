package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/types"
)

// Outcome is the result of one interception. Exactly one of Response and
// Deferred is set: either the host serves Response, or it loads the
// resource itself as if nothing had intercepted it.
type Outcome struct {
	Request    types.SynthesizedRequest
	Response   *types.Response
	Deferred   bool
	Reason     string
	StatusCode int
	Duration   time.Duration
}

// Observer is notified after every interception.
type Observer interface {
	OnReplay(tabID string, host types.HostRequest, out Outcome)
}

// Stats counts interceptions since the replayer was created.
type Stats struct {
	Intercepted int64 `json:"intercepted"`
	Correlated  int64 `json:"correlated"`
	Fulfilled   int64 `json:"fulfilled"`
	Deferred    int64 `json:"deferred"`
}

// Replayer runs synthesis and execution for a page session's intercepted
// requests. It never returns errors; failures become deferred outcomes.
type Replayer struct {
	tabID    string
	synth    *Synthesizer
	exec     Doer
	observer Observer

	intercepted atomic.Int64
	correlated  atomic.Int64
	fulfilled   atomic.Int64
	deferred    atomic.Int64
}

// NewReplayer creates a Replayer. observer may be nil.
func NewReplayer(tabID string, synth *Synthesizer, exec Doer, observer Observer) *Replayer {
	return &Replayer{tabID: tabID, synth: synth, exec: exec, observer: observer}
}

// Intercept synthesizes and executes the request behind host.
func (r *Replayer) Intercept(ctx context.Context, host types.HostRequest) (out Outcome) {
	start := time.Now()
	r.intercepted.Add(1)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("replay: unexpected error intercepting request", "tab_id", r.tabID, "url", host.URL, "panic", p)
			out = Outcome{Request: out.Request, Deferred: true, Reason: fmt.Sprintf("panic: %v", p)}
		}
		out.Duration = time.Since(start)
		if out.Deferred {
			r.deferred.Add(1)
		} else {
			r.fulfilled.Add(1)
		}
		if r.observer != nil {
			r.observer.OnReplay(r.tabID, host, out)
		}
	}()

	out.Request = r.synth.Synthesize(host)
	if out.Request.CorrelatedID != "" {
		r.correlated.Add(1)
	}
	slog.Info("replay: sending request", "tab_id", r.tabID, "kind", out.Request.Kind, "method", out.Request.Method, "url", out.Request.URL, "correlated_id", out.Request.CorrelatedID)
	slog.Debug("replay: request headers", "tab_id", r.tabID, "headers", headerNames(out.Request.Headers), "body_bytes", len(out.Request.Body))

	resp, err := r.exec.Execute(ctx, out.Request)
	if err != nil {
		out.Deferred = true
		out.Reason = err.Error()
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			out.StatusCode = statusErr.StatusCode
			slog.Info("replay: upstream not successful, deferring to browser", "tab_id", r.tabID, "url", host.URL, "status", statusErr.StatusCode)
		} else {
			slog.Error("replay: network error intercepting request, deferring to browser", "tab_id", r.tabID, "url", host.URL, "error", err)
		}
		return out
	}

	out.Response = resp
	out.StatusCode = resp.StatusCode
	return out
}

// Stats returns the current counters.
func (r *Replayer) Stats() Stats {
	return Stats{
		Intercepted: r.intercepted.Load(),
		Correlated:  r.correlated.Load(),
		Fulfilled:   r.fulfilled.Load(),
		Deferred:    r.deferred.Load(),
	}
}

func headerNames(h map[string]string) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
