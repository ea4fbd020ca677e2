// Package provider dispatches a chat turn to one of the configured
// generation backends behind a uniform streaming interface.
package provider

import (
	"context"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
)

// Request is everything a backend needs for one turn. Config is a value copy
// owned by the caller for the duration of the call.
type Request struct {
	Config  config.Config
	Task    chat.TaskType
	System  string
	History []chat.Message

	// Origin is the scheme and host of the client that started the turn,
	// when known. It is used to explain mixed-content failures.
	Origin string
}

// Progress reports backend preparation, such as model loading.
type Progress struct {
	Text     string  `json:"text"`
	Fraction float64 `json:"fraction"`
}

// Provider streams a chat completion. onDelta receives every text fragment
// in order; onProgress may be nil. On success the concatenated text is
// returned. Failures are *Error values; the text streamed before a failure
// is returned alongside it.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req Request, onDelta func(string), onProgress func(Progress)) (string, error)
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// modelFor picks the engine model for a task: the reasoning model for
// reasoning turns when one is configured, the active model otherwise.
func modelFor(cfg config.Config, task chat.TaskType) string {
	if task == chat.TaskReasoning && cfg.Model.Reasoning != "" {
		return cfg.Model.Reasoning
	}
	return cfg.Model.Active
}
