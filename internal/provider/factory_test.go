package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
)

func TestFactory_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{"offline endpoint", func(c *config.Config) {
			c.Provider = config.ProviderOffline
			c.Offline.BaseURL = ""
		}, "offline.base_url"},
		{"offline model", func(c *config.Config) {
			c.Provider = config.ProviderOffline
			c.Offline.Model = ""
			c.Model.Active = ""
		}, "offline.model"},
		{"lmstudio endpoint", func(c *config.Config) {
			c.Provider = config.ProviderLMStudio
			c.LMStudio.BaseURL = " "
		}, "lmstudio.base_url"},
		{"lmstudio model", func(c *config.Config) {
			c.Provider = config.ProviderLMStudio
			c.LMStudio.Model = ""
		}, "lmstudio.model"},
		{"native command", func(c *config.Config) {
			c.Provider = config.ProviderNative
			c.Native.Command = ""
		}, "native.command"},
		{"cloud key", func(c *config.Config) {
			c.Provider = config.ProviderCloud
			c.Cloud.APIKey = ""
		}, "NEXUS_GEMINI_API_KEY"},
		{"unknown", func(c *config.Config) {
			c.Provider = "carrier-pigeon"
		}, "carrier-pigeon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)

			p, err := NewFactory().New(cfg)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, IsKind(err, KindConfig), "kind of %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestFactory_SelectsProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.LMStudio.Model = "qwen2.5-7b-instruct"
	cfg.Native.Command = "/usr/local/bin/nexus-native"
	cfg.Cloud.APIKey = "key"

	f := NewFactory()
	for _, name := range []string{config.ProviderOffline, config.ProviderLMStudio, config.ProviderNative, config.ProviderCloud} {
		cfg.Provider = name
		p, err := f.New(cfg)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}
}

func TestFactory_LoaderSharedPerEndpoint(t *testing.T) {
	f := NewFactory()
	a := f.Loader("http://localhost:11434")
	b := f.Loader("http://localhost:11434")
	c := f.Loader("http://gpu-box:11434")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestModelFor(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, cfg.Model.Reasoning, modelFor(cfg, chat.TaskReasoning))
	assert.Equal(t, cfg.Model.Active, modelFor(cfg, chat.TaskCode))

	cfg.Model.Reasoning = ""
	assert.Equal(t, cfg.Model.Active, modelFor(cfg, chat.TaskReasoning))

	cfg.Offline.Model = "llama3"
	assert.Equal(t, "llama3", offlineModel(cfg, Request{Task: chat.TaskReasoning}))
}

func TestNativeThreads(t *testing.T) {
	assert.Equal(t, 6, nativeThreads(6))
	n := nativeThreads(0)
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 4)
}

func TestIsMixedContent(t *testing.T) {
	assert.True(t, isMixedContent("https://app.example", "http://localhost:1234/v1"))
	assert.False(t, isMixedContent("http://app.example", "http://localhost:1234/v1"))
	assert.False(t, isMixedContent("https://app.example", "https://tunnel.example/v1"))
	assert.False(t, isMixedContent("", "http://localhost:1234/v1"))
}

func TestFactory_ListerDoesNotNeedModel(t *testing.T) {
	f := NewFactory()

	cfg := config.Defaults()
	cfg.Provider = config.ProviderLMStudio
	cfg.LMStudio.Model = ""
	l, err := f.Lister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &lmStudioProvider{}, l)

	cfg.Provider = config.ProviderOffline
	cfg.Offline.Model = ""
	cfg.Model.Active = ""
	l, err = f.Lister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &offlineProvider{}, l)

	cfg.Provider = config.ProviderCloud
	cfg.Cloud.APIKey = "k"
	l, err = f.Lister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &cloudProvider{}, l)
}

func TestFactory_ListerConfigErrors(t *testing.T) {
	f := NewFactory()

	cfg := config.Defaults()
	cfg.Provider = config.ProviderNative
	_, err := f.Lister(cfg)
	assert.True(t, IsKind(err, KindConfig))

	cfg.Provider = config.ProviderCloud
	cfg.Cloud.APIKey = ""
	_, err = f.Lister(cfg)
	assert.True(t, IsKind(err, KindConfig))
	assert.Contains(t, err.Error(), "NEXUS_GEMINI_API_KEY")
}
