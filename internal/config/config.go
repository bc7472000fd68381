package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Model      ModelConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Gateway    GatewayConfig
	Composer   ComposerConfig
	Ingest     IngestConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// ModelConfig selects the remote model used by default for new sessions.
type ModelConfig struct {
	Backend string
	Name    string
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
}

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
}

type GatewayConfig struct {
	Timeout string
}

type ComposerConfig struct {
	MaxContextTokens int
}

type IngestConfig struct {
	MaxFileBytes int
}

const (
	BackendGemini     = "gemini"
	BackendOpenRouter = "openrouter"
)

const defaultGatewayTimeout = 60 * time.Second

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Model: ModelConfig{
			Backend: BackendGemini,
			Name:    "gemini-2.0-flash",
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Gateway: GatewayConfig{
			Timeout: defaultGatewayTimeout.String(),
		},
		Ingest: IngestConfig{
			MaxFileBytes: 10 << 20,
		},
	}
}

// Credential returns the model credential configured for the selected
// backend, or "" when none is available yet.
func (c Config) Credential() string {
	if c.Model.Backend == BackendOpenRouter {
		return c.OpenRouter.APIKey
	}
	return c.Gemini.APIKey
}

// GatewayTimeout parses Gateway.Timeout, falling back to the default on a
// malformed or non-positive value.
func (c Config) GatewayTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil || d <= 0 {
		return defaultGatewayTimeout
	}
	return d
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.copilot.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/copilot/config.json
// and secrets come from environment variables or
// $XDG_DATA_HOME/copilot/secrets.json.
//
// Environment variables (COPILOT_*) override backend values on all platforms.
// A missing model credential is not an error: it can be supplied per session.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "copilot"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applyKeychain(&cfg, kc)

	switch cfg.Model.Backend {
	case BackendGemini, BackendOpenRouter:
	default:
		return Config{}, fmt.Errorf("invalid config: model.backend must be %q or %q, got %q",
			BackendGemini, BackendOpenRouter, cfg.Model.Backend)
	}
	if cfg.Model.Name == "" {
		return Config{}, fmt.Errorf("missing required config: model.name")
	}

	return cfg, nil
}

// applyKeychain fills secrets that neither the environment nor the backend
// provided.
func applyKeychain(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
