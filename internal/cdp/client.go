package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/request_inspector/internal/bridge"
	"github.com/dgnsrekt/request_inspector/internal/config"
	"github.com/dgnsrekt/request_inspector/internal/credential"
	"github.com/dgnsrekt/request_inspector/internal/replay"
	"github.com/dgnsrekt/request_inspector/internal/types"
)

// Observer receives every capture and every replay outcome of every tab.
type Observer interface {
	bridge.Observer
	replay.Observer
}

// Observers fans each notification out to all members in order.
type Observers []Observer

func (o Observers) OnCapture(tabID string, rec types.RequestRecord) {
	for _, obs := range o {
		obs.OnCapture(tabID, rec)
	}
}

func (o Observers) OnReplay(tabID string, host types.HostRequest, out replay.Outcome) {
	for _, obs := range o {
		obs.OnReplay(tabID, host, out)
	}
}

// Client manages CDP connections to browser tabs and owns one Session per
// attached tab.
type Client struct {
	cfg         *config.Config
	credentials credential.Source
	executor    replay.Doer
	observer    Observer
	tabRegistry *TabRegistry
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sessions    map[target.ID]*Session
	sessionsMu  sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
}

func NewClient(cfg *config.Config, creds credential.Source, tabRegistry *TabRegistry, observers ...Observer) *Client {
	var fanOut Observers
	for _, obs := range observers {
		if obs != nil {
			fanOut = append(fanOut, obs)
		}
	}
	return &Client{
		cfg:         cfg,
		credentials: creds,
		executor:    replay.NewExecutor(cfg.ReplayTimeout()),
		observer:    fanOut,
		tabRegistry: tabRegistry,
		sessions:    make(map[target.ID]*Session),
		done:        make(chan struct{}),
	}
}

// Connect attaches to every matching page. ctx scopes the allocator, so
// cancelling it detaches all sessions the same way Close does.
func (c *Client) Connect(ctx context.Context) error {
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(ctx, cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return newError(CodeCDPUnavailable, "failed to connect to browser", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to enumerate targets", err)
	}

	slog.Info("Found browser targets", "count", len(targets))

	attachedCount := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !c.matchesTabURL(t.URL) {
			slog.Debug("Skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		attachedCount++
	}

	if attachedCount == 0 {
		return fmt.Errorf("no tabs found matching INSPECTOR_TAB_URL_FILTER=%q", c.cfg.TabURLFilter)
	}

	slog.Info("Attached to tabs", "count", attachedCount, "tab_url_filter", c.cfg.TabURLFilter)
	return nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	tabInfo, err := c.tabRegistry.Register(targetID, url)
	if err != nil {
		return fmt.Errorf("failed to register tab: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	session := newSession(tabCtx, tabCancel, targetID, sessionOptions{
		logCapacity:      c.cfg.LogCapacity,
		maxResponseBytes: c.cfg.MaxResponseBytes,
		preserveEncoding: c.cfg.PreserveBodyEncoding,
		credentials:      c.credentials,
		executor:         c.executor,
		observer:         c.observer,
	})

	// Listen before Fetch.enable so no paused request goes unanswered.
	chromedp.ListenTarget(tabCtx, c.createEventHandler(session))

	script := bridge.Script(c.cfg.BindingName)
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(c.cfg.BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}),
	); err != nil {
		tabCancel()
		c.tabRegistry.Remove(targetID)
		return fmt.Errorf("failed to install request bridge: %w", err)
	}

	c.sessionsMu.Lock()
	c.sessions[targetID] = session
	c.sessionsMu.Unlock()

	slog.Info("Attached to tab", "target_id", targetID, "path_segment", tabInfo.PathSegment, "browser_id", tabInfo.BrowserID, "url", truncateURL(url), "binding", c.cfg.BindingName)

	if c.cfg.ReloadOnAttach {
		reloadCtx, reloadCancel := context.WithTimeout(tabCtx, 30*time.Second)
		defer reloadCancel()
		if err := chromedp.Run(reloadCtx, chromedp.Reload()); err != nil {
			slog.Warn("Failed to reload tab (continuing)", "target_id", targetID, "error", err)
		} else {
			slog.Info("Reloaded tab after attach", "target_id", targetID, "url", truncateURL(url))
		}
		return nil
	}

	// Without a reload the current document still needs the hooks.
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, nil)); err != nil {
		slog.Warn("Failed to install bridge in current document", "target_id", targetID, "error", err)
	}
	return nil
}

// createEventHandler dispatches tab events. Binding calls are handled inline
// so a captured record is in the log before the paused request for the same
// URL is looked up. Paused requests run on their own goroutine since they
// issue CDP commands and chromedp delivers events on a single loop.
func (c *Client) createEventHandler(s *Session) func(ev interface{}) {
	tabID := string(s.ID)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				if info, err := c.tabRegistry.Register(s.ID, e.Frame.URL); err == nil {
					slog.Info("Tab navigated (full)", "tab_id", tabID, "path_segment", info.PathSegment, "url", truncateURL(e.Frame.URL))
				}
			}
		case *page.EventNavigatedWithinDocument:
			if info, err := c.tabRegistry.Register(s.ID, e.URL); err == nil {
				slog.Info("Tab navigated (SPA)", "tab_id", tabID, "path_segment", info.PathSegment, "url", truncateURL(e.URL))
			}
		case *runtime.EventBindingCalled:
			if e.Name != c.cfg.BindingName {
				return
			}
			c.handleBinding(s, e.Payload)
		case *fetch.EventRequestPaused:
			go s.handleRequestPaused(e)
		}
	}
}

func (c *Client) handleBinding(s *Session, payload string) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Binding handler panicked", "tab_id", s.ID, "panic", p)
		}
	}()
	s.bridge.HandleBinding(payload)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.sessionsMu.Lock()
		for id, s := range c.sessions {
			s.close()
			c.tabRegistry.Remove(id)
		}
		c.sessions = make(map[target.ID]*Session)
		c.sessionsMu.Unlock()

		if c.allocCancel != nil {
			c.allocCancel()
		}

		slog.Info("CDP client closed")
	})
	return nil
}

func (c *Client) GetTabCount() int {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return len(c.sessions)
}

// Tabs lists the attached tabs.
func (c *Client) Tabs() []types.TabInfo {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()

	out := make([]types.TabInfo, 0, len(c.sessions))
	for _, info := range c.tabRegistry.List() {
		if _, ok := c.sessions[target.ID(info.TargetID)]; ok {
			out = append(out, info)
		}
	}
	return out
}

// Session returns the session attached to tabID.
func (c *Client) Session(tabID string) (*Session, error) {
	if tabID == "" {
		return nil, newError(CodeValidation, "tab_id is required", nil)
	}
	c.sessionsMu.RLock()
	s, ok := c.sessions[target.ID(tabID)]
	c.sessionsMu.RUnlock()
	if !ok {
		return nil, newError(CodeTabNotFound, fmt.Sprintf("tab %q is not attached", tabID), nil)
	}
	return s, nil
}

// Records returns the capture log of tabID, oldest first.
func (c *Client) Records(tabID string) ([]types.RequestRecord, error) {
	s, err := c.Session(tabID)
	if err != nil {
		return nil, err
	}
	return s.Records(), nil
}

// Record returns one captured record of tabID.
func (c *Client) Record(tabID, requestID string) (types.RequestRecord, error) {
	s, err := c.Session(tabID)
	if err != nil {
		return types.RequestRecord{}, err
	}
	rec, ok := s.Record(requestID)
	if !ok {
		return types.RequestRecord{}, newError(CodeRecordNotFound, fmt.Sprintf("request %q not found (it may have been evicted)", requestID), nil)
	}
	return rec, nil
}

// Correlate reports the record an intercepted request for url would use.
func (c *Client) Correlate(tabID, url string) (types.RequestRecord, bool, error) {
	if url == "" {
		return types.RequestRecord{}, false, newError(CodeValidation, "url is required", nil)
	}
	s, err := c.Session(tabID)
	if err != nil {
		return types.RequestRecord{}, false, err
	}
	rec, ok := s.Correlate(url)
	return rec, ok, nil
}

// Stats returns per-tab statistics ordered by tab ID.
func (c *Client) Stats() []TabStats {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()

	out := make([]TabStats, 0, len(c.sessions))
	for _, info := range c.tabRegistry.List() {
		if s, ok := c.sessions[target.ID(info.TargetID)]; ok {
			out = append(out, s.Stats())
		}
	}
	return out
}

func (c *Client) matchesTabURL(url string) bool {
	if c.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.cfg.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
