package engine

import "context"

// Engine abstracts the on-device inference backend. The offline provider and
// the start preflight use this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (string, error)

	// ChatStream streams the response, calling onDelta for every fragment,
	// and returns the concatenated text.
	ChatStream(ctx context.Context, model string, messages []Message, opts *Options, onDelta func(string)) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
