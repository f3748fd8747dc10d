package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envConfigPath = "PAIRBOT_CONFIG"

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bot        BotConfig        `json:"bot"`
	Session    SessionConfig    `json:"session"`
	Connection ConnectionConfig `json:"connection"`
	Pairing    PairingConfig    `json:"pairing"`
	Gateway    GatewayConfig    `json:"gateway"`
	Notify     NotifyConfig     `json:"notify,omitzero"`
	Providers  ProvidersConfig  `json:"providers,omitzero"`
	Logging    LoggingConfig    `json:"logging,omitzero"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// BotConfig describes the chat-facing behavior of the bot.
type BotConfig struct {
	Name           string `env:"PAIRBOT_BOT_NAME"   json:"name"`
	Prefix         string `env:"PAIRBOT_BOT_PREFIX" json:"prefix"`
	GreetOnConnect bool   `json:"greet_on_connect"`
	GreetingText   string `json:"greeting_text,omitempty"`
}

// SessionConfig locates the durable bundle and the pairing scratch area.
type SessionConfig struct {
	Dir        string `env:"PAIRBOT_SESSION_DIR" json:"dir"`
	ScratchDir string `env:"PAIRBOT_SCRATCH_DIR" json:"scratch_dir"`
}

// ConnectionConfig drives the connection supervisor.
type ConnectionConfig struct {
	BridgeURL               string `env:"PAIRBOT_BRIDGE_URL" json:"bridge_url"`
	ReconnectDelaySeconds   int    `json:"reconnect_delay_seconds"`
	PollIntervalSeconds     int    `json:"poll_interval_seconds"`
	HandshakeTimeoutSeconds int    `json:"handshake_timeout_seconds"`
	ShutdownTimeoutSeconds  int    `json:"shutdown_timeout_seconds"`
	LogoutOnShutdown        bool   `env:"PAIRBOT_LOGOUT_ON_SHUTDOWN" json:"logout_on_shutdown"`
}

// PairingConfig drives the pairing coordinator.
type PairingConfig struct {
	Enabled               bool   `env:"PAIRBOT_PAIRING_ENABLED" json:"enabled"`
	CodeDelayMillis       int    `json:"code_delay_millis"`
	SettleDelaySeconds    int    `json:"settle_delay_seconds"`
	RetryDelaySeconds     int    `json:"retry_delay_seconds"`
	AttemptTimeoutSeconds int    `json:"attempt_timeout_seconds"`
	ConfirmationText      string `json:"confirmation_text,omitempty"`
}

// GatewayConfig configures the HTTP API bind settings.
type GatewayConfig struct {
	Host           string   `env:"PAIRBOT_GATEWAY_HOST" json:"host"`
	Port           int      `env:"PORT"                 json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// NotifyConfig groups operator alert channels.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures operator alerts delivered through a Telegram bot.
type TelegramConfig struct {
	Enabled bool   `env:"PAIRBOT_TELEGRAM_ENABLED" json:"enabled"`
	Token   string `env:"TELEGRAM_BOT_TOKEN"       json:"token"`
	ChatID  int64  `env:"PAIRBOT_TELEGRAM_CHAT_ID" json:"chat_id"`
}

// ProvidersConfig stores optional LLM provider settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI client behind the ask command.
type OpenAIProviderConfig struct {
	Enabled               bool   `env:"PAIRBOT_OPENAI_ENABLED" json:"enabled"`
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Model                 string `json:"model"`
	Instructions          string `json:"instructions,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name:           "WhatsApp Bot",
			Prefix:         "!",
			GreetOnConnect: true,
		},
		Session: SessionConfig{
			Dir:        filepath.Join("auth", "auth_info"),
			ScratchDir: "temp",
		},
		Connection: ConnectionConfig{
			BridgeURL:               "ws://127.0.0.1:3001/ws",
			ReconnectDelaySeconds:   3,
			PollIntervalSeconds:     5,
			HandshakeTimeoutSeconds: 20,
			ShutdownTimeoutSeconds:  5,
			LogoutOnShutdown:        true,
		},
		Pairing: PairingConfig{
			Enabled:               true,
			CodeDelayMillis:       1500,
			SettleDelaySeconds:    5,
			RetryDelaySeconds:     10,
			AttemptTimeoutSeconds: 300,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIProviderConfig{
				Model:                 "gpt-5-mini",
				RequestTimeoutSeconds: 60,
			},
		},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and
// applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	prefix := strings.TrimSpace(c.Bot.Prefix)
	if prefix == "" {
		return errors.New("bot.prefix is required")
	}
	if strings.ContainsAny(prefix, " \t\n") {
		return fmt.Errorf("bot.prefix %q must not contain whitespace", c.Bot.Prefix)
	}
	if strings.TrimSpace(c.Session.Dir) == "" {
		return errors.New("session.dir is required")
	}
	if strings.TrimSpace(c.Session.ScratchDir) == "" {
		return errors.New("session.scratch_dir is required")
	}
	if filepath.Clean(c.Session.Dir) == filepath.Clean(c.Session.ScratchDir) {
		return errors.New("session.dir and session.scratch_dir must differ")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port)
	}
	if c.Connection.ReconnectDelaySeconds < 0 || c.Connection.PollIntervalSeconds < 0 {
		return errors.New("connection delays must be non-negative")
	}
	if c.Pairing.CodeDelayMillis < 0 || c.Pairing.SettleDelaySeconds < 0 || c.Pairing.RetryDelaySeconds < 0 {
		return errors.New("pairing delays must be non-negative")
	}
	if c.Notify.Telegram.Enabled && strings.TrimSpace(c.Notify.Telegram.Token) == "" {
		return errors.New("notify.telegram.token is required when telegram alerts are enabled")
	}

	return nil
}

func (c ConnectionConfig) ReconnectDelay() time.Duration {
	return seconds(c.ReconnectDelaySeconds)
}

func (c ConnectionConfig) PollInterval() time.Duration {
	return seconds(c.PollIntervalSeconds)
}

func (c ConnectionConfig) HandshakeTimeout() time.Duration {
	return seconds(c.HandshakeTimeoutSeconds)
}

func (c ConnectionConfig) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

func (c PairingConfig) CodeDelay() time.Duration {
	return time.Duration(c.CodeDelayMillis) * time.Millisecond
}

func (c PairingConfig) SettleDelay() time.Duration {
	return seconds(c.SettleDelaySeconds)
}

func (c PairingConfig) RetryDelay() time.Duration {
	return seconds(c.RetryDelaySeconds)
}

func (c PairingConfig) AttemptTimeout() time.Duration {
	return seconds(c.AttemptTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// findConfigPath resolves the active config file location.
//
// Precedence is PAIRBOT_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
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
