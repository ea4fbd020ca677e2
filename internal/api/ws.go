package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/nexus/internal/pipeline"
	"github.com/kalambet/nexus/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: loopbackOrigin,
}

// loopbackOrigin accepts non-browser clients and pages served from this
// machine.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// handleSessionSocket runs turns for text frames of the form {"content": ...}
// and streams the resulting events back as JSON frames. Turns on one
// connection run one after another; closing the socket cancels the turn in
// flight.
func handleSessionSocket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Sessions.Get(id); err != nil {
			sessionError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "session_id", id, "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(pipeline.WithOrigin(context.Background(), r.Header.Get("Origin")))
		defer cancel()

		incoming := make(chan sendRequest)
		go func() {
			defer close(incoming)
			defer cancel()
			for {
				var req sendRequest
				if err := conn.ReadJSON(&req); err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						slog.Debug("websocket read ended", "session_id", id, "error", err)
					}
					return
				}
				select {
				case incoming <- req:
				case <-ctx.Done():
					return
				}
			}
		}()

		var writeMu sync.Mutex
		send := func(ev session.Event) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "session_id", id, "error", err)
			}
		}

		for req := range incoming {
			if strings.TrimSpace(req.Content) == "" {
				send(session.Event{Type: session.EventError, Error: "content is required"})
				continue
			}
			_, err := deps.Sessions.Send(ctx, id, req.Content, send)
			switch {
			case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNotFound):
				send(session.Event{Type: session.EventError, Error: err.Error()})
			case err != nil:
				slog.Debug("turn ended with error", "session_id", id, "error", err)
			}
		}
	}
}
