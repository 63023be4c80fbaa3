package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Ingestion modes. Exactly one driver is active per deployment.
const (
	IngestWebhook = "webhook"
	IngestPolling = "polling"
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Telegram    TelegramConfig    `json:"telegram"`
	Correlation CorrelationConfig `json:"correlation"`
	Welcome     WelcomeConfig     `json:"welcome"`
	Uploads     UploadsConfig     `json:"uploads"`
	Logging     LoggingConfig     `json:"logging"`
}

type ServerConfig struct {
	Host string `json:"host" env:"ASKDESK_SERVER_HOST"`
	Port int    `json:"port" env:"ASKDESK_SERVER_PORT"`
	// PublicBaseURL prefixes media URLs returned to clients, e.g.
	// "https://relay.example.com". Empty means path-relative URLs.
	PublicBaseURL string `json:"public_base_url" env:"ASKDESK_SERVER_PUBLIC_BASE_URL"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"ASKDESK_TELEGRAM_TOKEN"`
	// ChatID is the expert chat every user message is relayed into.
	ChatID int64  `json:"chat_id" env:"ASKDESK_TELEGRAM_CHAT_ID"`
	Proxy  string `json:"proxy" env:"ASKDESK_TELEGRAM_PROXY"`
	// Ingest selects how expert replies arrive: "webhook" or "polling".
	Ingest              string `json:"ingest" env:"ASKDESK_TELEGRAM_INGEST"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" env:"ASKDESK_TELEGRAM_POLL_INTERVAL_SECONDS"`
	// WebhookURL is the public URL registered with the platform via
	// POST /debug/webhook; the platform pushes updates to it.
	WebhookURL          string `json:"webhook_url" env:"ASKDESK_TELEGRAM_WEBHOOK_URL"`
	TextTimeoutSeconds  int    `json:"text_timeout_seconds" env:"ASKDESK_TELEGRAM_TEXT_TIMEOUT_SECONDS"`
	MediaTimeoutSeconds int    `json:"media_timeout_seconds" env:"ASKDESK_TELEGRAM_MEDIA_TIMEOUT_SECONDS"`
}

type CorrelationConfig struct {
	// Marker is the literal keyword preceding a user identifier in expert
	// replies, matched case-insensitively.
	Marker string `json:"marker" env:"ASKDESK_CORRELATION_MARKER"`
	// SubstringFallback enables the last-resort strategy that scans known
	// user identifiers as substrings of the inbound text. Lossy; off by
	// default.
	SubstringFallback bool `json:"substring_fallback" env:"ASKDESK_CORRELATION_SUBSTRING_FALLBACK"`
	// DedupWindow is how many trailing expert messages are checked for an
	// identical body before an expert reply is appended.
	DedupWindow int `json:"dedup_window" env:"ASKDESK_CORRELATION_DEDUP_WINDOW"`
}

type WelcomeConfig struct {
	// Messages are appended as expert-origin entries when a conversation is
	// first created. Empty list disables seeding.
	Messages []string `json:"messages" env:"ASKDESK_WELCOME_MESSAGES"`
	// SeedOnFetch additionally creates and seeds a conversation the first
	// time its history is fetched, so a client polling before its first send
	// already sees the welcome.
	SeedOnFetch bool `json:"seed_on_fetch" env:"ASKDESK_WELCOME_SEED_ON_FETCH"`
}

type UploadsConfig struct {
	Dir      string `json:"dir" env:"ASKDESK_UPLOADS_DIR"`
	MaxBytes int64  `json:"max_bytes" env:"ASKDESK_UPLOADS_MAX_BYTES"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"ASKDESK_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"ASKDESK_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"ASKDESK_LOGGING_FILE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Telegram: TelegramConfig{
			Ingest:              IngestWebhook,
			PollIntervalSeconds: 5,
			TextTimeoutSeconds:  10,
			MediaTimeoutSeconds: 30,
		},
		Correlation: CorrelationConfig{
			Marker:            "USER",
			SubstringFallback: false,
			DedupWindow:       5,
		},
		Welcome: WelcomeConfig{
			Messages: []string{},
		},
		Uploads: UploadsConfig{
			Dir:      "~/.askdesk/uploads",
			MaxBytes: 20 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "~/.askdesk/askdesk.log",
		},
	}
}

// LoadConfig reads the JSON config at path (missing file means defaults) and
// applies environment variable overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = ExpandHome(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.Telegram.Token = resolveEnvRef(cfg.Telegram.Token)
	cfg.Telegram.Proxy = resolveEnvRef(cfg.Telegram.Proxy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Telegram.Ingest {
	case IngestWebhook, IngestPolling:
	default:
		return fmt.Errorf("telegram.ingest must be %q or %q, got %q",
			IngestWebhook, IngestPolling, c.Telegram.Ingest)
	}
	if c.Telegram.PollIntervalSeconds <= 0 {
		return fmt.Errorf("telegram.poll_interval_seconds must be positive")
	}
	if c.Correlation.Marker == "" {
		return fmt.Errorf("correlation.marker must not be empty")
	}
	if c.Correlation.DedupWindow <= 0 {
		return fmt.Errorf("correlation.dedup_window must be positive")
	}
	return nil
}

// TelegramConfigured reports whether the relay has enough configuration to
// reach the platform. The server still runs without it; sends degrade to
// stored-but-unsent.
func (c *Config) TelegramConfigured() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != 0
}

func (c *Config) UploadsPath() string {
	return ExpandHome(c.Uploads.Dir)
}

func (c *Config) LogFilePath() string {
	return ExpandHome(c.Logging.FilePath)
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// resolveEnvRef expands "$VAR" or "${VAR}" values to the named environment
// variable, leaving plain values untouched.
func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

// ExpandHome resolves a leading "~" or "~/" against the user's home
// directory.
func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
