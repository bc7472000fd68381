package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConfigBackend stores the non-secret settings: the `defaults` domain on
// macOS, a JSON file everywhere else. Secrets never pass through it.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// readSpec copies the stored value of s into cfg. An absent key keeps the
// default.
func readSpec(cfg *Config, b ConfigBackend, s keySpec) error {
	var (
		v   any
		ok  bool
		err error
	)
	switch s.typ {
	case kString:
		v, ok, err = b.GetString(s.key)
	case kInt:
		v, ok, err = b.GetInt(s.key)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.key, err)
	}
	if ok {
		s.apply(cfg, v)
	}
	return nil
}

// writeSpec checks raw against s and stores it.
func writeSpec(b ConfigBackend, s keySpec, raw string) error {
	if s.check != nil {
		if err := s.check(raw); err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
	}
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		return b.SetInt(s.key, i)
	default:
		return b.SetString(s.key, raw)
	}
}

func checkBackend(v string) error {
	switch v {
	case BackendGemini, BackendOpenRouter:
		return nil
	}
	return fmt.Errorf("must be %q or %q", BackendGemini, BackendOpenRouter)
}

func checkDuration(v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func checkLevel(v string) error {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of debug, info, warn, error")
}

func checkNonNegative(v string) error {
	if i, err := strconv.Atoi(v); err == nil && i < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
