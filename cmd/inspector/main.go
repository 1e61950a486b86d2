package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/api"
	"github.com/dgnsrekt/request_inspector/internal/browser"
	"github.com/dgnsrekt/request_inspector/internal/capture"
	"github.com/dgnsrekt/request_inspector/internal/cdp"
	"github.com/dgnsrekt/request_inspector/internal/config"
	"github.com/dgnsrekt/request_inspector/internal/credential"
	"github.com/dgnsrekt/request_inspector/internal/events"
	"github.com/dgnsrekt/request_inspector/internal/netutil"
	"github.com/dgnsrekt/request_inspector/internal/storage"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load inspector config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("inspector config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"tab_url_filter", cfg.TabURLFilter,
		"binding_name", cfg.BindingName,
		"log_capacity", cfg.LogCapacity,
		"replay_timeout_ms", cfg.ReplayTimeoutMS,
		"preserve_body_encoding", cfg.PreserveBodyEncoding,
		"data_dir", cfg.DataDir,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	creds, err := credential.FromConfig(cfg.AccessToken, cfg.AccessTokenFile)
	if err != nil {
		slog.Error("failed to load access token", "error", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
	}

	writers := storage.NewWriterRegistry(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB)
	tabRegistry := cdp.NewTabRegistry()
	journal := capture.NewJournal(writers, tabRegistry, cfg.JournalMaxBodyBytes)
	broker := events.NewBroker()

	client := cdp.NewClient(cfg, creds, tabRegistry, journal, events.NewPublisher(broker))
	if err := client.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		shutdown(nil, client, writers, launcher)
		os.Exit(1)
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(client, broker)}

	go func() {
		slog.Info("inspector listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "tabs", client.GetTabCount())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("inspector server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdown(srv, client, writers, launcher)
}

// shutdown stops intake first so the journal flushes everything captured.
func shutdown(srv *http.Server, client *cdp.Client, writers *storage.WriterRegistry, launcher *browser.Launcher) {
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("inspector shutdown failed", "error", err)
		}
	}
	if err := client.Close(); err != nil {
		slog.Error("cdp client close failed", "error", err)
	}
	if err := writers.Close(); err != nil {
		slog.Error("journal close failed", "error", err)
	}
	if launcher != nil {
		launcher.Stop()
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
