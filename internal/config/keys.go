package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account for secrets
	check   func(raw string) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "COPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "COPILOT_LOG_LEVEL", check: checkLevel,
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "model.backend", typ: kString, env: "COPILOT_MODEL_BACKEND", check: checkBackend,
		apply:   func(cfg *Config, v any) { cfg.Model.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Backend },
	},
	{
		key: "model.name", typ: kString, env: "COPILOT_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Name },
	},
	{
		key: "gemini.base_url", typ: kString, env: "COPILOT_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.api_key", typ: kString, env: "COPILOT_GEMINI_API_KEY",
		secret: true, account: "gemini_api_key",
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "COPILOT_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "COPILOT_OPENROUTER_API_KEY",
		secret: true, account: "openrouter_api_key",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "gateway.timeout", typ: kString, env: "COPILOT_GATEWAY_TIMEOUT", check: checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Gateway.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Timeout },
	},
	{
		key: "composer.max_context_tokens", typ: kInt, env: "COPILOT_COMPOSER_MAX_CONTEXT_TOKENS", check: checkNonNegative,
		apply:   func(cfg *Config, v any) { cfg.Composer.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.MaxContextTokens },
	},
	{
		key: "ingest.max_file_bytes", typ: kInt, env: "COPILOT_INGEST_MAX_FILE_BYTES", check: checkNonNegative,
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxFileBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxFileBytes },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if err := readSpec(cfg, b, s); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
