package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/nexus/internal/composer"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/engine"
	"github.com/kalambet/nexus/internal/ollama"
)

// offlineProvider generates on the local engine, loading the model on first
// use.
type offlineProvider struct {
	loader *engine.Loader
}

func (p *offlineProvider) Name() string { return config.ProviderOffline }

func offlineModel(cfg config.Config, req Request) string {
	if cfg.Offline.Model != "" {
		return cfg.Offline.Model
	}
	return modelFor(cfg, req.Task)
}

func (p *offlineProvider) StreamChat(ctx context.Context, req Request, onDelta func(string), onProgress func(Progress)) (string, error) {
	model := offlineModel(req.Config, req)
	if model == "" {
		return "", configError(`No on-device model selected. Run "nexus config set offline.model <name>".`)
	}

	var forward func(engine.Progress)
	if onProgress != nil {
		forward = func(ep engine.Progress) {
			onProgress(Progress{Text: ep.Text, Fraction: ep.Fraction})
		}
	}
	if err := p.loader.Load(ctx, model, forward); err != nil {
		return "", p.translate(req.Config, err)
	}

	turns := composer.Compose(req.System, req.History)
	msgs := make([]engine.Message, len(turns))
	for i, t := range turns {
		msgs[i] = engine.Message{Role: t.Role, Content: t.Content}
	}

	text, err := p.loader.Engine().ChatStream(ctx, model, msgs, &engine.Options{Temperature: 0.7}, onDelta)
	if err != nil {
		return text, p.translate(req.Config, err)
	}
	return text, nil
}

func (p *offlineProvider) translate(cfg config.Config, err error) error {
	var se *ollama.StatusError
	switch {
	case errors.As(err, &se):
		return remoteError(se.Code, se.Body)
	case isConnRefused(err):
		return transportError(err, "Connection Refused: the on-device engine at %s is not reachable. Start it with: ollama serve", cfg.Offline.BaseURL)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return transportError(err, "Generation interrupted: %v", err)
	default:
		return transportError(err, "On-device engine error: %v", err)
	}
}

func (p *offlineProvider) ListModels(ctx context.Context) ([]string, error) {
	models, err := p.loader.Engine().ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing on-device models: %w", err)
	}
	return models, nil
}
