package engine

import (
	"context"

	"github.com/kalambet/nexus/internal/ollama"
)

// OllamaEngine runs models on an Ollama daemon. Reachability and model
// listing come straight from the embedded client; chat and pull translate
// between the engine and wire types.
type OllamaEngine struct {
	*ollama.Client
}

var _ Engine = (*OllamaEngine)(nil)

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{Client: ollama.New(baseURL)}
}

func wireMessages(messages []Message) []ollama.Message {
	out := make([]ollama.Message, len(messages))
	for i, m := range messages {
		out[i] = ollama.Message(m)
	}
	return out
}

func wireOptions(opts *Options) *ollama.Options {
	if opts == nil {
		return nil
	}
	return &ollama.Options{Temperature: opts.Temperature, NumThread: opts.Threads}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts *Options) (string, error) {
	return e.Client.Chat(ctx, model, wireMessages(messages), wireOptions(opts))
}

func (e *OllamaEngine) ChatStream(ctx context.Context, model string, messages []Message, opts *Options, onDelta func(string)) (string, error) {
	return e.Client.ChatStream(ctx, model, wireMessages(messages), wireOptions(opts), onDelta)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.Client.PullModel(ctx, name, nil)
	}
	return e.Client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
	})
}
