// Package config handles loading and validating server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys.
const EnvPrefix = "RESEPLY_"

// DefaultSystemPrompt frames the model as the site's virtual chef.
const DefaultSystemPrompt = "You are Chef Reseply, a friendly virtual chef on a recipe-sharing site. " +
	"Help users with recipes, ingredient substitutions, cooking techniques and meal ideas. " +
	"Answer in the language the user writes in, keep answers practical and concise, " +
	"and politely decline questions that have nothing to do with food or cooking."

// Config is the top-level configuration for the reseply server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Provider  ProviderConfig  `koanf:"provider"`
	Chat      ChatConfig      `koanf:"chat"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only enable it behind a proxy that overwrites them,
	// otherwise any client can pick its own rate limit key.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// ProviderConfig selects and authenticates the upstream model provider.
// An empty APIKey is not a load error: the chat endpoint reports it as
// service-unavailable on every request instead.
type ProviderConfig struct {
	Name    string `koanf:"name"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// ChatConfig holds the fixed generation parameters. None of these can be
// set by a request.
type ChatConfig struct {
	SystemPrompt    string  `koanf:"system_prompt"`
	Temperature     float64 `koanf:"temperature"`
	MaxOutputTokens int     `koanf:"max_output_tokens"`
	MaxBodyBytes    int64   `koanf:"max_body_bytes"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RateLimitConfig enables the Redis-backed limiter on the chat endpoint when
// RedisURL is set.
type RateLimitConfig struct {
	RedisURL string        `koanf:"redis_url"`
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.port":                8080,
		"server.read_timeout":        "15s",
		"server.write_timeout":       "30s",
		"server.shutdown_timeout":    "10s",
		"server.allowed_origins":     []string{},
		"server.trust_proxy_headers": false,

		"provider.name":     "google",
		"provider.api_key":  "${GEMINI_API_KEY}",
		"provider.base_url": "https://generativelanguage.googleapis.com/v1beta",
		"provider.model":    "gemini-2.0-flash",

		"chat.system_prompt":     DefaultSystemPrompt,
		"chat.temperature":       0.7,
		"chat.max_output_tokens": 1024,
		"chat.max_body_bytes":    1 << 20,

		"log.level":  "info",
		"log.format": "json",

		"ratelimit.redis_url": "",
		"ratelimit.requests":  20,
		"ratelimit.window":    "1m",
	}
}

// Load layers built-in defaults, an optional YAML file and environment
// variable overrides, in that order, and returns the resulting Config.
// A missing file at path is not an error.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}

	// Every key is exactly two levels deep, so only the first underscore
	// separates the section from the key:
	//   RESEPLY_SERVER_PORT         -> server.port
	//   RESEPLY_PROVIDER_API_KEY    -> provider.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Provider.APIKey = expandEnvRef(cfg.Provider.APIKey)
	cfg.RateLimit.RedisURL = expandEnvRef(cfg.RateLimit.RedisURL)

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// expandEnvRef resolves a value of the exact form ${NAME} to the NAME
// environment variable. Any other value is returned unchanged.
func expandEnvRef(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate reports the first setting that would make the server misbehave.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Provider.Name == "" {
		return errors.New("provider.name is required")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 1 {
		return fmt.Errorf("chat.temperature %v must be within [0,1]", c.Chat.Temperature)
	}
	if c.Chat.MaxOutputTokens <= 0 {
		return fmt.Errorf("chat.max_output_tokens must be positive, got %d", c.Chat.MaxOutputTokens)
	}
	if c.Chat.MaxBodyBytes <= 0 {
		return fmt.Errorf("chat.max_body_bytes must be positive, got %d", c.Chat.MaxBodyBytes)
	}
	if c.RateLimit.RedisURL != "" && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("ratelimit.requests and ratelimit.window must be positive when redis_url is set")
	}
	return nil
}
