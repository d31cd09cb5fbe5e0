package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envTransport         = "MENUBOT_TRANSPORT"
	envStoreDir          = "MENUBOT_STORE_DIR"
)

const (
	TransportWhatsApp = "whatsapp"
	TransportTelegram = "telegram"
)

const (
	defaultStoreDir          = "auth"
	defaultWorkers           = 4
	defaultQueueSize         = 64
	defaultMaxMessageAge     = 30
	defaultBackoffMultiplier = 2.0
	defaultMaxDelayMS        = 60000
	defaultGatewayHost       = "127.0.0.1"
	defaultGatewayPort       = 18790
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Transport string          `json:"transport"`
	Channels  ChannelsConfig  `json:"channels"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Menu      MenuConfig      `json:"menu"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`

	// WhatsmeowLevel is the minimum level forwarded from the whatsmeow client and store.
	// Defaults to warn.
	WhatsmeowLevel string `json:"whatsmeow_level,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

// WhatsAppConfig configures the WhatsApp multi-device transport.
type WhatsAppConfig struct {
	StoreDir string `json:"store_dir"`
	PrintQR  *bool  `json:"print_qr,omitempty"`
}

// ShouldPrintQR reports whether pairing codes are rendered in the terminal.
func (c WhatsAppConfig) ShouldPrintQR() bool {
	if c.PrintQR == nil {
		return true
	}

	return *c.PrintQR
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// DispatchConfig sizes the inbound worker pool and the stale-message guard.
type DispatchConfig struct {
	Workers              int `json:"workers"`
	QueueSize            int `json:"queue_size"`
	MaxMessageAgeSeconds int `json:"max_message_age_seconds"`
}

// ReconnectConfig controls the delay between sessions. Zero values reconnect immediately, forever.
type ReconnectConfig struct {
	InitialDelayMS int     `json:"initial_delay_ms"`
	Multiplier     float64 `json:"multiplier"`
	MaxDelayMS     int     `json:"max_delay_ms"`
	Jitter         bool    `json:"jitter"`
	MaxAttempts    int     `json:"max_attempts"`
}

// MenuConfig points at an optional reply catalog overriding the built-in texts.
type MenuConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// GatewayConfig configures the HTTP status server bind settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
//
// A missing config file is not an error; the defaults describe a WhatsApp bot storing
// credentials under ./auth.
func LoadConfig() (*Config, error) {
	var cfg Config

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings with runtime defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportWhatsApp
	}
	if strings.TrimSpace(c.Channels.WhatsApp.StoreDir) == "" {
		c.Channels.WhatsApp.StoreDir = defaultStoreDir
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = defaultWorkers
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = defaultQueueSize
	}
	if c.Dispatch.MaxMessageAgeSeconds <= 0 {
		c.Dispatch.MaxMessageAgeSeconds = defaultMaxMessageAge
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = defaultBackoffMultiplier
	}
	if c.Reconnect.InitialDelayMS > 0 && c.Reconnect.MaxDelayMS <= 0 {
		c.Reconnect.MaxDelayMS = defaultMaxDelayMS
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = defaultGatewayHost
	}
	if c.Gateway.Port <= 0 {
		c.Gateway.Port = defaultGatewayPort
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWhatsApp:
	case TransportTelegram:
		if strings.TrimSpace(c.Channels.Telegram.Token) == "" {
			return fmt.Errorf("channels.telegram.token is required when transport is %q", TransportTelegram)
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}

	if c.Reconnect.InitialDelayMS < 0 || c.Reconnect.MaxDelayMS < 0 || c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect settings must not be negative")
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if transport := strings.TrimSpace(os.Getenv(envTransport)); transport != "" {
		cfg.Transport = transport
	}

	if storeDir := strings.TrimSpace(os.Getenv(envStoreDir)); storeDir != "" {
		cfg.Channels.WhatsApp.StoreDir = storeDir
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is MENUBOT_CONFIG first, then cwd-local fallback paths. An empty path means
// no file was found and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("MENUBOT_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("MENUBOT_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
