package provider

import (
	"context"
	"errors"

	"github.com/kalambet/nexus/internal/composer"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/localserver"
)

const (
	mixedContentMessage = "Mixed Content Error: a secure (https) client cannot reach a local http API. Open the app over http or put LM Studio behind a secure tunnel (like Ngrok/Cloudflare)."
	connRefusedMessage  = `Connection Refused: Ensure LM Studio is running, the "Local Server" is started, and "CORS" is enabled in LM Studio settings.`
)

// lmStudioProvider streams from a local OpenAI-compatible server.
type lmStudioProvider struct {
	client *localserver.Client
}

func (p *lmStudioProvider) Name() string { return config.ProviderLMStudio }

func (p *lmStudioProvider) StreamChat(ctx context.Context, req Request, onDelta func(string), _ func(Progress)) (string, error) {
	turns := composer.Compose(req.System, req.History)
	msgs := make([]localserver.Message, len(turns))
	for i, t := range turns {
		msgs[i] = localserver.Message{Role: t.Role, Content: t.Content}
	}

	text, err := p.client.ChatStream(ctx, localserver.ChatRequest{
		Model:       req.Config.LMStudio.Model,
		Messages:    msgs,
		Temperature: 0.7,
	}, onDelta)
	if err != nil {
		return text, p.translate(err, req.Origin)
	}
	return text, nil
}

func (p *lmStudioProvider) translate(err error, origin string) error {
	var se *localserver.StatusError
	if errors.As(err, &se) {
		return remoteError(se.Code, se.Body)
	}
	var stErr *localserver.StreamError
	if errors.As(err, &stErr) {
		return transportError(err, "LM Studio stream interrupted: %v", stErr.Err)
	}
	if isMixedContent(origin, p.client.BaseURL()) {
		return transportError(err, mixedContentMessage)
	}
	if isConnRefused(err) {
		return transportError(err, connRefusedMessage)
	}
	return transportError(err, "LM Studio request failed: %v", err)
}

func (p *lmStudioProvider) ListModels(ctx context.Context) ([]string, error) {
	models, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.translate(err, "")
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids, nil
}
