package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/kalambet/nexus/internal/config"
)

func handleGetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, config.ShowAll(deps.Settings.Get()))
	}
}

// handlePatchConfig applies a {"key": value} object; a null value restores
// the key's default. Every pair is validated before any is written, so a bad
// value leaves the configuration untouched.
func handlePatchConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(patch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no keys to update")
			return
		}

		keys := make([]string, 0, len(patch))
		for k, v := range patch {
			var err error
			if v == nil {
				err = config.ValidateKey(k)
			} else {
				err = config.Validate(k, patchValue(v))
			}
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			var err error
			if v := patch[k]; v == nil {
				err = deps.Settings.Reset(k)
			} else {
				err = deps.Settings.Set(k, patchValue(v))
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "updating %s: %v", k, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, config.ShowAll(deps.Settings.Get()))
	}
}

// patchValue renders a decoded JSON value as the raw string a key parses.
// Numbers are written without an exponent so large integers stay integers.
func patchValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
