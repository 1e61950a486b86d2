package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GetCDPURL() != "http://127.0.0.1:9220" {
		t.Fatalf("GetCDPURL() = %q", cfg.GetCDPURL())
	}
	if cfg.BindingName != "RequestInspection" {
		t.Fatalf("BindingName = %q", cfg.BindingName)
	}
	if cfg.LogCapacity != 512 {
		t.Fatalf("LogCapacity = %d; want 512", cfg.LogCapacity)
	}
	if cfg.ReplayTimeout() != 30*time.Second {
		t.Fatalf("ReplayTimeout() = %v", cfg.ReplayTimeout())
	}
	if cfg.PreserveBodyEncoding {
		t.Fatal("PreserveBodyEncoding should default to false")
	}
	if cfg.BindAddr != "127.0.0.1:8189" || !cfg.PortAutoFallback {
		t.Fatalf("BindAddr/PortAutoFallback = %q/%v", cfg.BindAddr, cfg.PortAutoFallback)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("INSPECTOR_LOG_CAPACITY", "0")
	t.Setenv("INSPECTOR_REPLAY_TIMEOUT_MS", "10")
	t.Setenv("INSPECTOR_PRESERVE_BODY_ENCODING", "true")
	t.Setenv("INSPECTOR_PORT_CANDIDATES", "127.0.0.1:9001, ,127.0.0.1:9002")
	t.Setenv("INSPECTOR_LOG_LEVEL", "DEBUG")
	t.Setenv("INSPECTOR_BUFFER_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d", cfg.CDPPort)
	}
	if cfg.LogCapacity != 0 {
		t.Fatalf("LogCapacity = %d; want 0", cfg.LogCapacity)
	}
	if cfg.ReplayTimeoutMS != 1000 {
		t.Fatalf("ReplayTimeoutMS = %d; want clamped to 1000", cfg.ReplayTimeoutMS)
	}
	if !cfg.PreserveBodyEncoding {
		t.Fatal("PreserveBodyEncoding = false")
	}
	want := []string{"127.0.0.1:9001", "127.0.0.1:9002"}
	if !reflect.DeepEqual(cfg.PortCandidates, want) {
		t.Fatalf("PortCandidates = %v; want %v", cfg.PortCandidates, want)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.BufferSize != 5000 {
		t.Fatalf("BufferSize = %d; want default on parse failure", cfg.BufferSize)
	}
}

func TestLoadRejectsBothTokenSources(t *testing.T) {
	t.Setenv("INSPECTOR_ACCESS_TOKEN", "abc")
	t.Setenv("INSPECTOR_ACCESS_TOKEN_FILE", "/tmp/token")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil; want error")
	}
}
