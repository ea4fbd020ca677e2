package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	allowed []string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NEXUS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "NEXUS_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "NEXUS_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "NEXUS_LOG_LEVEL",
		allowed: []string{"debug", "info", "warn", "error"},
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NEXUS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "model.active", typ: kString, env: "NEXUS_MODEL_ACTIVE",
		apply:   func(cfg *Config, v any) { cfg.Model.Active = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Active },
	},
	{
		key: "model.reasoning", typ: kString, env: "NEXUS_MODEL_REASONING",
		apply:   func(cfg *Config, v any) { cfg.Model.Reasoning = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Reasoning },
	},
	{
		key: "model.quantization", typ: kString, env: "NEXUS_MODEL_QUANTIZATION",
		allowed: []string{"4-bit", "6-bit", "8-bit"},
		apply:   func(cfg *Config, v any) { cfg.Model.Quantization = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Quantization },
	},
	{
		key: "performance.profile", typ: kString, env: "NEXUS_PERFORMANCE_PROFILE",
		allowed: []string{ProfileEco, ProfileBalanced, ProfilePerformance},
		apply:   func(cfg *Config, v any) { cfg.Performance.Profile = v.(string) },
		extract: func(cfg Config) any { return cfg.Performance.Profile },
	},
	{
		key: "memory.enabled", typ: kBool, env: "NEXUS_MEMORY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Memory.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Memory.Enabled },
	},
	{
		key: "provider", typ: kString, env: "NEXUS_PROVIDER",
		allowed: []string{ProviderOffline, ProviderLMStudio, ProviderNative, ProviderCloud},
		apply:   func(cfg *Config, v any) { cfg.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider },
	},
	{
		key: "offline.base_url", typ: kString, env: "NEXUS_OFFLINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Offline.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Offline.BaseURL },
	},
	{
		key: "offline.model", typ: kString, env: "NEXUS_OFFLINE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Offline.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Offline.Model },
	},
	{
		key: "lmstudio.base_url", typ: kString, env: "NEXUS_LMSTUDIO_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LMStudio.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LMStudio.BaseURL },
	},
	{
		key: "lmstudio.api_key", typ: kString, env: "NEXUS_LMSTUDIO_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LMStudio.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LMStudio.APIKey },
	},
	{
		key: "lmstudio.model", typ: kString, env: "NEXUS_LMSTUDIO_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LMStudio.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LMStudio.Model },
	},
	{
		key: "native.command", typ: kString, env: "NEXUS_NATIVE_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Native.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Native.Command },
	},
	{
		key: "native.idle_window", typ: kDuration, env: "NEXUS_NATIVE_IDLE_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Native.IdleWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Native.IdleWindow },
	},
	{
		key: "native.threads", typ: kInt, env: "NEXUS_NATIVE_THREADS",
		apply:   func(cfg *Config, v any) { cfg.Native.Threads = v.(int) },
		extract: func(cfg Config) any { return cfg.Native.Threads },
	},
	{
		key: "cloud.base_url", typ: kString, env: "NEXUS_CLOUD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.BaseURL },
	},
	{
		key: "cloud.model", typ: kString, env: "NEXUS_CLOUD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Cloud.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.Model },
	},
	{
		key: "cloud.api_key", typ: kString, env: "NEXUS_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Cloud.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Cloud.APIKey },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "NEXUS_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.settle_delay", typ: kDuration, env: "NEXUS_GENERATION_SETTLE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Generation.SettleDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.SettleDelay },
	},
	{
		key: "stream.frame_interval", typ: kDuration, env: "NEXUS_STREAM_FRAME_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Stream.FrameInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Stream.FrameInterval },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts a raw string into the key's typed value and checks it
// against the allowed set.
func (s keySpec) parse(raw string) (any, error) {
	var v any
	switch s.typ {
	case kString:
		v = raw
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer value for %s: %w", s.key, err)
		}
		v = i
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value for %s: %w", s.key, err)
		}
		v = b
	case kFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value for %s: %w", s.key, err)
		}
		v = f
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration value for %s: %w", s.key, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid duration value for %s: must not be negative", s.key)
		}
		v = d
	}
	if len(s.allowed) > 0 && !slices.Contains(s.allowed, raw) {
		return nil, fmt.Errorf("invalid value %q for %s: must be one of %s", raw, s.key, strings.Join(s.allowed, ", "))
	}
	return v, nil
}

// format renders a typed value the way it is written to the backend.
func (s keySpec) format(v any) string {
	if d, ok := v.(time.Duration); ok {
		return d.String()
	}
	return fmt.Sprintf("%v", v)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
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
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
