package provider

import (
	"net/http"
	"strings"
	"sync"

	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/engine"
	"github.com/kalambet/nexus/internal/localserver"
)

// Factory builds the provider selected by a configuration. It keeps one
// engine loader per offline endpoint so loaded models survive across turns.
type Factory struct {
	// HTTPClient is used for cloud requests. Nil means a default client.
	HTTPClient *http.Client
	// Generator backs the native provider. Nil means CommandGenerator.
	Generator Generator

	mu      sync.Mutex
	loaders map[string]*engine.Loader
}

// NewFactory creates a Factory with default transports.
func NewFactory() *Factory {
	return &Factory{loaders: make(map[string]*engine.Loader)}
}

// Loader returns the shared engine loader for an offline endpoint.
func (f *Factory) Loader(baseURL string) *engine.Loader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaders == nil {
		f.loaders = make(map[string]*engine.Loader)
	}
	l, ok := f.loaders[baseURL]
	if !ok {
		l = engine.NewLoader(engine.NewOllamaEngine(baseURL))
		f.loaders[baseURL] = l
	}
	return l
}

// New returns the provider for cfg.Provider. Missing settings are reported
// as KindConfig errors before any I/O happens.
func (f *Factory) New(cfg config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOffline:
		if strings.TrimSpace(cfg.Offline.BaseURL) == "" {
			return nil, configError(`Offline engine endpoint missing. Run "nexus config set offline.base_url <url>".`)
		}
		if cfg.Offline.Model == "" && cfg.Model.Active == "" {
			return nil, configError(`No on-device model selected. Run "nexus config set offline.model <name>".`)
		}
		return &offlineProvider{loader: f.Loader(cfg.Offline.BaseURL)}, nil

	case config.ProviderLMStudio:
		if strings.TrimSpace(cfg.LMStudio.BaseURL) == "" {
			return nil, configError(`LM Studio config missing. Run "nexus config set lmstudio.base_url <url>".`)
		}
		if cfg.LMStudio.Model == "" {
			return nil, configError(`LM Studio model not selected. Run "nexus models" and then "nexus config set lmstudio.model <id>".`)
		}
		return &lmStudioProvider{client: localserver.NewClient(cfg.LMStudio.BaseURL, cfg.LMStudio.APIKey)}, nil

	case config.ProviderNative:
		if strings.TrimSpace(cfg.Native.Command) == "" && f.Generator == nil {
			return nil, configError(`Native engine command missing. Run "nexus config set native.command <path>".`)
		}
		if cfg.Model.Active == "" {
			return nil, configError(`No on-device model selected. Run "nexus config set model.active <name>".`)
		}
		gen := f.Generator
		if gen == nil {
			gen = CommandGenerator{Command: cfg.Native.Command}
		}
		return &nativeProvider{gen: gen}, nil

	case config.ProviderCloud:
		if cfg.Cloud.APIKey == "" {
			return nil, configError(`Gemini API key missing. Set NEXUS_GEMINI_API_KEY or run "nexus config set-secret cloud.api_key <key>".`)
		}
		if cfg.Cloud.Model == "" {
			return nil, configError(`Cloud model not selected. Run "nexus config set cloud.model <name>".`)
		}
		client := f.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		return &cloudProvider{
			client:  client,
			baseURL: strings.TrimRight(cfg.Cloud.BaseURL, "/"),
			apiKey:  cfg.Cloud.APIKey,
		}, nil

	default:
		return nil, configError(`Unknown provider %q. Run "nexus config set provider <offline|lmstudio|native|cloud>".`, cfg.Provider)
	}
}

// Lister returns a model lister for cfg.Provider. Unlike New it does not
// require a model to be selected, so it can be used to pick one.
func (f *Factory) Lister(cfg config.Config) (ModelLister, error) {
	switch cfg.Provider {
	case config.ProviderOffline:
		if strings.TrimSpace(cfg.Offline.BaseURL) == "" {
			return nil, configError(`Offline engine endpoint missing. Run "nexus config set offline.base_url <url>".`)
		}
		return &offlineProvider{loader: f.Loader(cfg.Offline.BaseURL)}, nil

	case config.ProviderLMStudio:
		if strings.TrimSpace(cfg.LMStudio.BaseURL) == "" {
			return nil, configError(`LM Studio config missing. Run "nexus config set lmstudio.base_url <url>".`)
		}
		return &lmStudioProvider{client: localserver.NewClient(cfg.LMStudio.BaseURL, cfg.LMStudio.APIKey)}, nil

	case config.ProviderCloud:
		if cfg.Cloud.APIKey == "" {
			return nil, configError(`Gemini API key missing. Set NEXUS_GEMINI_API_KEY or run "nexus config set-secret cloud.api_key <key>".`)
		}
		p, err := f.New(cfg)
		if err != nil {
			return nil, err
		}
		return p.(ModelLister), nil

	case config.ProviderNative:
		return nil, configError(`The native engine cannot list models. Run "nexus config set model.active <name>".`)

	default:
		return nil, configError(`Unknown provider %q. Run "nexus config set provider <offline|lmstudio|native|cloud>".`, cfg.Provider)
	}
}
