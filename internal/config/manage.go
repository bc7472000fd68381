package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			if v == "" {
				v = "<unset>"
			} else {
				v = "<set>"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  v,
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKeyIn(newPlatformBackend(), key, value)
}

func setKeyIn(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s%s", key, s.env, credentialHint(s.account))
		}
		return writeSpec(b, s, value)
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// UnsetKey removes a stored value so the key falls back to its default.
func UnsetKey(key string) error {
	return unsetKeyIn(newPlatformBackend(), key)
}

func unsetKeyIn(b ConfigBackend, key string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot unset secret %q via config", key)
		}
		return b.Delete(key)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// CredentialHint tells the user where the credential for the configured
// backend can be provided.
func CredentialHint(cfg Config) string {
	for _, s := range specs {
		if s.secret && s.key == cfg.Model.Backend+".api_key" {
			return "set environment variable " + s.env + credentialHint(s.account)
		}
	}
	return ""
}
