package cdp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/request_inspector/internal/bridge"
	"github.com/dgnsrekt/request_inspector/internal/cookies"
	"github.com/dgnsrekt/request_inspector/internal/credential"
	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/reqlog"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

const cookieLookupTimeout = 5 * time.Second

// Session is one attached page: its capture log, the bridge feeding it and
// the replayer reading it. Nothing is shared between sessions.
type Session struct {
	ID target.ID

	ctx    context.Context
	cancel context.CancelFunc

	log      *reqlog.Log
	bridge   *bridge.Bridge
	replayer *replay.Replayer

	maxResponseBytes int
}

type sessionOptions struct {
	logCapacity      int
	maxResponseBytes int
	preserveEncoding bool
	credentials      credential.Source
	executor         replay.Doer
	observer         Observer
	cookies          cookies.Source
}

// newSession wires the per-page pipeline. When opts.cookies is nil the
// session reads cookies from the browser over CDP.
func newSession(ctx context.Context, cancel context.CancelFunc, id target.ID, opts sessionOptions) *Session {
	s := &Session{
		ID:               id,
		ctx:              ctx,
		cancel:           cancel,
		log:              reqlog.New(opts.logCapacity),
		maxResponseBytes: opts.maxResponseBytes,
	}

	var (
		bridgeObs bridge.Observer
		replayObs replay.Observer
	)
	if opts.observer != nil {
		bridgeObs, replayObs = opts.observer, opts.observer
	}

	cookieSrc := opts.cookies
	if cookieSrc == nil {
		cookieSrc = cookies.SourceFunc(s.browserCookies)
	}

	s.bridge = bridge.New(string(id), s.log, bridgeObs)
	synth := replay.NewSynthesizer(s.log, cookieSrc, opts.credentials, replay.WithPreservedEncoding(opts.preserveEncoding))
	s.replayer = replay.NewReplayer(string(id), synth, opts.executor, replayObs)
	return s
}

// Records returns the captured records, oldest first.
func (s *Session) Records() []types.RequestRecord {
	return s.log.Snapshot()
}

// Record returns one captured record by ID.
func (s *Session) Record(id string) (types.RequestRecord, bool) {
	return s.log.Get(id)
}

// Correlate reports which record an intercepted request for url would be
// matched with.
func (s *Session) Correlate(url string) (types.RequestRecord, bool) {
	return s.log.FindCorrelated(url)
}

// Stats summarises the session's capture log and replay counters.
func (s *Session) Stats() TabStats {
	return TabStats{
		TabID:   string(s.ID),
		Records: s.log.Len(),
		Evicted: s.log.Evicted(),
		Replay:  s.replayer.Stats(),
	}
}

// TabStats is the per-session view exposed by the inspection API.
type TabStats struct {
	TabID   string       `json:"tab_id"`
	Records int          `json:"records"`
	Evicted int64        `json:"evicted"`
	Replay  replay.Stats `json:"replay"`
}

// browserCookies returns the cookie header the browser would send to rawURL.
func (s *Session) browserCookies(rawURL string) string {
	ctx, cancel := context.WithTimeout(s.ctx, cookieLookupTimeout)
	defer cancel()

	var list []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		list, err = network.GetCookies().WithUrls([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		slog.Debug("Failed to read browser cookies", "tab_id", s.ID, "url", truncateURL(rawURL), "error", err)
		return ""
	}

	httpCookies := make([]*http.Cookie, 0, len(list))
	for _, c := range list {
		httpCookies = append(httpCookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies.Header(httpCookies)
}

func (s *Session) close() {
	if s.cancel != nil {
		s.cancel()
	}
}
