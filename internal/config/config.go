package config

import (
	"strings"
	"time"
)

// Provider selectors.
const (
	ProviderOffline  = "offline"
	ProviderLMStudio = "lmstudio"
	ProviderNative   = "native"
	ProviderCloud    = "cloud"
)

// Performance profiles.
const (
	ProfileEco         = "Eco"
	ProfileBalanced    = "Balanced"
	ProfilePerformance = "Performance"
)

// Config is the full runtime configuration, one field per key section.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Storage     StorageConfig
	Model       ModelConfig
	Performance PerformanceConfig
	Memory      MemoryConfig
	Provider    string
	Offline     OfflineConfig
	LMStudio    LMStudioConfig
	Native      NativeConfig
	Cloud       CloudConfig
	Generation  GenerationConfig
	Stream      StreamConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	// APIToken, when set, is required as a bearer token on /v1 routes.
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type ModelConfig struct {
	Active       string
	Reasoning    string
	Quantization string
}

type PerformanceConfig struct {
	Profile string
}

type MemoryConfig struct {
	Enabled bool
}

// OfflineConfig points at the on-device engine (an Ollama daemon).
type OfflineConfig struct {
	BaseURL string
	Model   string
}

// LMStudioConfig points at a local OpenAI-compatible server.
type LMStudioConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NativeConfig describes the native generation process.
type NativeConfig struct {
	Command    string
	IdleWindow time.Duration
	Threads    int
}

type CloudConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type GenerationConfig struct {
	Timeout     time.Duration
	SettleDelay time.Duration
}

type StreamConfig struct {
	FrameInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Model: ModelConfig{
			Active:       "qwen-2.5-coder-7b",
			Reasoning:    "phi-3-mini-reasoner",
			Quantization: "4-bit",
		},
		Performance: PerformanceConfig{
			Profile: ProfileBalanced,
		},
		Memory: MemoryConfig{
			Enabled: true,
		},
		Provider: ProviderOffline,
		Offline: OfflineConfig{
			BaseURL: "http://localhost:11434",
		},
		LMStudio: LMStudioConfig{
			BaseURL: "http://localhost:1234/v1",
			APIKey:  "lm-studio",
		},
		Native: NativeConfig{
			IdleWindow: 1200 * time.Millisecond,
		},
		Cloud: CloudConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-3-pro-preview",
		},
		Generation: GenerationConfig{
			Timeout:     5 * time.Minute,
			SettleDelay: 400 * time.Millisecond,
		},
		Stream: StreamConfig{
			FrameInterval: 16 * time.Millisecond,
		},
	}
}

// Defaults returns the built-in configuration without consulting any backend.
func Defaults() Config {
	return defaults()
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nexus.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/nexus/config.json
// and secrets are read from $XDG_DATA_HOME/nexus/secrets.json.
//
// Environment variables (NEXUS_*) override backend values on all platforms.
// Missing provider settings are not an error here; the provider factory
// reports them when a generation is attempted.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

const keychainService = "nexus"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
