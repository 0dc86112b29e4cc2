package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Analysis  AnalysisConfig   `json:"analysis" yaml:"analysis"`
	Breaker   BreakerConfig    `json:"breaker" yaml:"breaker"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
	Events    EventsConfig     `json:"events" yaml:"events"`
}

type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	Development bool   `json:"development" yaml:"development"`
	MaxUploadMB int    `json:"max_upload_mb" yaml:"max_upload_mb"`
}

type ProviderConfig struct {
	ID             string            `json:"id" yaml:"id"`
	Type           string            `json:"type" yaml:"type"`
	Name           string            `json:"name" yaml:"name"`
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`
	APIKey         string            `json:"api_key" yaml:"api_key"`
	Models         []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Fallbacks      []string          `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// AnalysisConfig is handed to every analyst at construction.
type AnalysisConfig struct {
	Provider       string  `json:"provider" yaml:"provider"`
	Model          string  `json:"model" yaml:"model"`
	MaxInputChars  int     `json:"max_input_chars" yaml:"max_input_chars"`
	TimeoutSeconds *int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
}

type BreakerConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	MinRequests        uint32  `json:"min_requests" yaml:"min_requests"`
	FailureRatio       float64 `json:"failure_ratio" yaml:"failure_ratio"`
	OpenTimeoutSeconds int     `json:"open_timeout_seconds" yaml:"open_timeout_seconds"`
	HalfOpenMaxCalls   uint32  `json:"half_open_max_calls" yaml:"half_open_max_calls"`
}

type GatewayConfig struct {
	Slack    SlackGatewayConfig    `json:"slack" yaml:"slack"`
	Discord  DiscordGatewayConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramGatewayConfig `json:"telegram" yaml:"telegram"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type TelegramGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

// EventsConfig controls the Redis Streams pipeline event bus.
type EventsConfig struct {
	RedisURL string `json:"redis_url" yaml:"redis_url"`
	Stream   string `json:"stream" yaml:"stream"`
	MaxLen   int64  `json:"max_len" yaml:"max_len"`
}

// ErrMissingAPIKey is returned by Validate when the analysis provider has no usable key.
var ErrMissingAPIKey = errors.New("analysis provider api key is not configured")

const placeholderAPIKey = "your_key_here"

const defaultAnalysisTimeoutSeconds = 120

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// defaultDocument is used when no config file exists on disk.
const defaultDocument = `{
  "server": {
    "port": ${PORT:8080},
    "log_level": "${LOG_LEVEL:info}",
    "development": ${DEVELOPMENT:false},
    "max_upload_mb": ${MAX_UPLOAD_MB:20}
  },
  "providers": [
    {
      "id": "mistral",
      "type": "mistral",
      "name": "Mistral AI",
      "endpoint": "${MISTRAL_ENDPOINT:https://api.mistral.ai/v1}",
      "api_key": "${MISTRAL_API_KEY}"
    }
  ],
  "analysis": {
    "provider": "mistral",
    "model": "${ANALYZER_MODEL:mistral-large-latest}",
    "max_input_chars": 8000,
    "timeout_seconds": ${ANALYZER_TIMEOUT_SECONDS:120},
    "max_tokens": 2048,
    "temperature": 0.2
  },
  "breaker": {
    "enabled": true,
    "min_requests": 10,
    "failure_ratio": 0.5,
    "open_timeout_seconds": 30,
    "half_open_max_calls": 2
  },
  "gateway": {
    "slack": {"enabled": ${SLACK_ENABLED:false}, "bot_token": "${SLACK_BOT_TOKEN}", "app_token": "${SLACK_APP_TOKEN}"},
    "discord": {"enabled": ${DISCORD_ENABLED:false}, "bot_token": "${DISCORD_BOT_TOKEN}"},
    "telegram": {"enabled": ${TELEGRAM_ENABLED:false}, "bot_token": "${TELEGRAM_BOT_TOKEN}"}
  },
  "events": {
    "redis_url": "${REDIS_URL}",
    "stream": "${EVENTS_STREAM:analyzer:runs}",
    "max_len": 10000
  }
}`

// Load reads a JSON or YAML config file and substitutes environment variable references.
// A missing file falls back to the built-in default document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(resolved), &cfg)
	default:
		err = json.Unmarshal([]byte(resolved), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default builds the configuration from the environment alone.
func Default() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(expandEnv(defaultDocument)), &cfg); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(raw string) string {
	return envVarRe.ReplaceAllStringFunc(raw, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 20
	}
	if c.Analysis.MaxInputChars <= 0 {
		c.Analysis.MaxInputChars = 8000
	}
	// Absent means the default bound; an explicit 0 disables it.
	switch t := c.Analysis.TimeoutSeconds; {
	case t == nil:
		c.Analysis.TimeoutSeconds = intPtr(defaultAnalysisTimeoutSeconds)
	case *t < 0:
		c.Analysis.TimeoutSeconds = intPtr(0)
	}
	if c.Analysis.MaxTokens <= 0 {
		c.Analysis.MaxTokens = 2048
	}
	if c.Analysis.Provider == "" && len(c.Providers) > 0 {
		c.Analysis.Provider = c.Providers[0].ID
	}
	if c.Events.Stream == "" {
		c.Events.Stream = "analyzer:runs"
	}
}

// AnalysisProvider returns the provider entry the analysts are bound to.
func (c *Config) AnalysisProvider() (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == c.Analysis.Provider {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Validate checks that the analysts can reach a configured provider.
func (c *Config) Validate() error {
	p, ok := c.AnalysisProvider()
	if !ok {
		return fmt.Errorf("analysis provider %q is not defined", c.Analysis.Provider)
	}
	key := strings.TrimSpace(p.APIKey)
	if key == "" || key == placeholderAPIKey {
		return fmt.Errorf("provider %s: %w", p.ID, ErrMissingAPIKey)
	}
	if strings.TrimSpace(c.Analysis.Model) == "" {
		return fmt.Errorf("analysis model is required")
	}
	return nil
}

// AnalysisTimeout is the per-call bound for one analyst; zero disables it.
func (c *Config) AnalysisTimeout() time.Duration {
	if c.Analysis.TimeoutSeconds == nil {
		return defaultAnalysisTimeoutSeconds * time.Second
	}
	return time.Duration(*c.Analysis.TimeoutSeconds) * time.Second
}

func intPtr(v int) *int { return &v }

// MaxUploadBytes is the upper bound for uploaded documents.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
