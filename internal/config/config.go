package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the request inspector.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	StartURL      string
	ProfileDir    string
	Headless      bool

	// Tab matching and behavior
	TabURLFilter   string
	ReloadOnAttach bool
	BindingName    string

	// Capture and replay
	LogCapacity          int
	ReplayTimeoutMS      int
	MaxResponseBytes     int
	PreserveBodyEncoding bool
	AccessToken          string
	AccessTokenFile      string

	// Journal storage
	DataDir             string
	MaxFileSizeMB       int
	BufferSize          int
	JournalMaxBodyBytes int

	// Inspection API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:           getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:              getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser:        getEnvBoolOrDefault("INSPECTOR_LAUNCH_BROWSER", false),
		StartURL:             getEnvOrDefault("INSPECTOR_START_URL", "about:blank"),
		ProfileDir:           getEnvOrDefault("INSPECTOR_PROFILE_DIR", ""),
		Headless:             getEnvBoolOrDefault("INSPECTOR_HEADLESS", false),
		TabURLFilter:         getEnvOrDefault("INSPECTOR_TAB_URL_FILTER", ""),
		ReloadOnAttach:       getEnvBoolOrDefault("INSPECTOR_RELOAD_ON_ATTACH", true),
		BindingName:          getEnvOrDefault("INSPECTOR_BINDING_NAME", "RequestInspection"),
		LogCapacity:          getEnvIntOrDefault("INSPECTOR_LOG_CAPACITY", 512),
		ReplayTimeoutMS:      getEnvIntOrDefault("INSPECTOR_REPLAY_TIMEOUT_MS", 30000),
		MaxResponseBytes:     getEnvIntOrDefault("INSPECTOR_MAX_RESPONSE_BYTES", 50*1024*1024),
		PreserveBodyEncoding: getEnvBoolOrDefault("INSPECTOR_PRESERVE_BODY_ENCODING", false),
		AccessToken:          os.Getenv("INSPECTOR_ACCESS_TOKEN"),
		AccessTokenFile:      os.Getenv("INSPECTOR_ACCESS_TOKEN_FILE"),
		DataDir:              getEnvOrDefault("INSPECTOR_DATA_DIR", "./inspector_data"),
		MaxFileSizeMB:        getEnvIntOrDefault("INSPECTOR_MAX_FILE_SIZE_MB", 200),
		BufferSize:           getEnvIntOrDefault("INSPECTOR_BUFFER_SIZE", 5000),
		JournalMaxBodyBytes:  getEnvIntOrDefault("INSPECTOR_JOURNAL_MAX_BODY_BYTES", 1024*1024),
		BindAddr:             getEnvOrDefault("INSPECTOR_BIND_ADDR", "127.0.0.1:8189"),
		PortCandidates:       getEnvListOrDefault("INSPECTOR_PORT_CANDIDATES", nil),
		PortAutoFallback:     getEnvBoolOrDefault("INSPECTOR_PORT_AUTO_FALLBACK", true),
		LogLevel:             strings.ToLower(getEnvOrDefault("INSPECTOR_LOG_LEVEL", "info")),
		LogFile:              getEnvOrDefault("INSPECTOR_LOG_FILE", "logs/inspector.log"),
	}
	if cfg.ReplayTimeoutMS < 1000 {
		cfg.ReplayTimeoutMS = 1000
	}
	if cfg.AccessToken != "" && cfg.AccessTokenFile != "" {
		return nil, fmt.Errorf("INSPECTOR_ACCESS_TOKEN and INSPECTOR_ACCESS_TOKEN_FILE are mutually exclusive")
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// ReplayTimeout returns the upstream request timeout.
func (c *Config) ReplayTimeout() time.Duration {
	return time.Duration(c.ReplayTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
