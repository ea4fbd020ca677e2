package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key     string   `json:"key"`
	EnvVar  string   `json:"env_var"`
	Value   string   `json:"value"`
	Allowed []string `json:"allowed,omitempty"`
	Secret  bool     `json:"secret,omitempty"`
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		val := s.format(s.extract(cfg))
		if s.secret {
			if val == "" {
				val = "(unset)"
			} else {
				val = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   val,
			Allowed: s.allowed,
			Secret:  s.secret,
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	_, err := setWith(newPlatformBackend(), key, value)
	return err
}

// Validate reports whether value is acceptable for key without persisting it.
func Validate(key, value string) error {
	s, err := settable(key)
	if err != nil {
		return err
	}
	_, err = s.parse(value)
	return err
}

// ValidateKey reports whether key names a non-secret config key.
func ValidateKey(key string) error {
	_, err := settable(key)
	return err
}

func settable(key string) (keySpec, error) {
	s, ok := lookupSpec(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s or \"nexus config set-secret\"", key, s.env)
	}
	return s, nil
}

// ResetKey removes a key from the platform backend so its built-in default
// applies on the next load.
func ResetKey(key string) error {
	_, err := resetWith(newPlatformBackend(), key)
	return err
}

// resetWith deletes key from b and returns its built-in default.
func resetWith(b ConfigBackend, key string) (any, error) {
	s, err := settable(key)
	if err != nil {
		return nil, err
	}
	if err := b.Delete(key); err != nil {
		return nil, fmt.Errorf("resetting %s: %w", key, err)
	}
	return s.extract(defaults()), nil
}

// setWith validates value for key and persists it to b. It returns the typed
// value so callers can apply it to an in-memory Config.
func setWith(b ConfigBackend, key, value string) (any, error) {
	s, err := settable(key)
	if err != nil {
		return nil, err
	}

	v, err := s.parse(value)
	if err != nil {
		return nil, err
	}

	if s.typ == kInt {
		err = b.SetInt(key, v.(int))
	} else {
		err = b.SetString(key, s.format(v))
	}
	if err != nil {
		return nil, fmt.Errorf("persisting %s: %w", key, err)
	}
	return v, nil
}

// SetSecret stores a secret key in the platform secret store.
func SetSecret(key, value string) error {
	s, ok := lookupSpec(key)
	if !ok || !s.secret {
		return fmt.Errorf("%q is not a secret config key", key)
	}
	if err := keychainSet(keychainService, key, value); err != nil {
		return fmt.Errorf("storing secret %s: %w", key, err)
	}
	return nil
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
