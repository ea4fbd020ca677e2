package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type pinResponse struct {
	ID     string `json:"id"`
	Pinned bool   `json:"is_pinned"`
}

type recallResponse struct {
	Query    string   `json:"query"`
	Memories []string `json:"memories"`
}

func handleListMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Memory.List())
	}
}

func handleRecall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		memories := deps.Memory.Retrieve(q)
		if memories == nil {
			memories = []string{}
		}
		writeJSON(w, http.StatusOK, recallResponse{Query: q, Memories: memories})
	}
}

func handleTogglePin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		found, err := deps.Memory.TogglePin(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "toggling pin: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "memory %q not found", id)
			return
		}
		resp := pinResponse{ID: id}
		for _, e := range deps.Memory.List() {
			if e.ID == id {
				resp.Pinned = e.Pinned
				break
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		found, err := deps.Memory.Delete(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting memory: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "memory %q not found", id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
