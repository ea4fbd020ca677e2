package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/memory"
	"github.com/kalambet/nexus/internal/provider"
	"github.com/kalambet/nexus/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Sessions is the conversation surface. Implemented by session.Manager.
type Sessions interface {
	Create() (chat.Session, error)
	List() []session.Summary
	Get(id string) (chat.Session, error)
	Active() (chat.Session, bool)
	SetActive(id string) error
	Delete(id string) error
	Send(ctx context.Context, id, content string, listener func(session.Event)) (chat.Message, error)
}

// Memory is the identity vault surface. Implemented by memory.Store.
type Memory interface {
	List() []memory.Entry
	Retrieve(query string) []string
	TogglePin(id string) (bool, error)
	Delete(id string) (bool, error)
}

// Settings is the live configuration. Implemented by config.Holder.
type Settings interface {
	Get() config.Config
	Set(key, value string) error
	Reset(key string) error
}

// Listers resolves a model lister for a configuration. Implemented by
// provider.Factory.
type Listers interface {
	Lister(cfg config.Config) (provider.ModelLister, error)
}

// Deps are the collaborators the HTTP surface serves from.
type Deps struct {
	Sessions Sessions
	Memory   Memory
	Settings Settings
	Listers  Listers
	// Token, when non-empty, is required as a bearer token on /v1 routes.
	Token string
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/models", handleModels(deps))

		r.Get("/sessions", handleListSessions(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/active", handleActiveSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Put("/sessions/{id}/active", handleSetActive(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/messages", handleSendMessage(deps))
		r.Get("/sessions/{id}/ws", handleSessionSocket(deps))

		r.Get("/memory", handleListMemory(deps))
		r.Get("/memory/recall", handleRecall(deps))
		r.Post("/memory/{id}/pin", handleTogglePin(deps))
		r.Delete("/memory/{id}", handleDeleteMemory(deps))

		r.Get("/config", handleGetConfig(deps))
		r.Patch("/config", handlePatchConfig(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type modelList struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := deps.Settings.Get()
		lister, err := deps.Listers.Lister(cfg)
		if err != nil {
			providerError(w, err)
			return
		}
		models, err := lister.ListModels(r.Context())
		if err != nil {
			providerError(w, err)
			return
		}
		if models == nil {
			models = []string{}
		}
		writeJSON(w, http.StatusOK, modelList{Provider: cfg.Provider, Models: models})
	}
}

// providerError maps a provider failure onto an HTTP status: missing
// settings are the caller's to fix, everything else is an upstream problem.
func providerError(w http.ResponseWriter, err error) {
	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.KindConfig:
			httpError(w, http.StatusBadRequest, "config_error", "%s", perr.Message)
		case provider.KindRemote:
			httpError(w, http.StatusBadGateway, "remote_error", "%s", perr.Message)
		default:
			httpError(w, http.StatusBadGateway, "transport_error", "%s", perr.Message)
		}
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
