package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeDaemon serves /api/chat with a fixed reply and /api/pull with three
// progress lines, recording the last chat body.
func fakeDaemon(t *testing.T, lastChat *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		switch r.URL.Path {
		case "/api/chat":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if lastChat != nil {
				*lastChat = body
			}
			if body["stream"] == true {
				enc.Encode(map[string]any{"message": map[string]string{"content": "a"}, "done": false})
				enc.Encode(map[string]any{"message": map[string]string{"content": "b"}, "done": true})
				return
			}
			enc.Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
				"done":    true,
			})
		case "/api/pull":
			enc.Encode(map[string]any{"status": "pulling manifest"})
			enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
			enc.Encode(map[string]any{"status": "success"})
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEngine_ChatTranslatesMessagesAndOptions(t *testing.T) {
	var body map[string]any
	e := NewOllamaEngine(fakeDaemon(t, &body).URL)

	result, err := e.Chat(context.Background(), "qwen2.5-coder", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, &Options{Temperature: 0.2, Threads: 3})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "hello from ollama" {
		t.Errorf("got %q, want %q", result, "hello from ollama")
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("first message = %v", msgs[0])
	}
	opts, _ := body["options"].(map[string]any)
	if opts["num_thread"] != float64(3) || opts["temperature"] != 0.2 {
		t.Errorf("options = %v", opts)
	}
}

func TestOllamaEngine_NilOptionsOmitted(t *testing.T) {
	var body map[string]any
	e := NewOllamaEngine(fakeDaemon(t, &body).URL)

	if _, err := e.Chat(context.Background(), "m", nil, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, ok := body["options"]; ok {
		t.Errorf("options sent for nil Options: %v", body["options"])
	}
}

func TestOllamaEngine_ChatStream(t *testing.T) {
	e := NewOllamaEngine(fakeDaemon(t, nil).URL)

	var deltas []string
	full, err := e.ChatStream(context.Background(), "qwen2.5-coder", nil, nil, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if full != "ab" || len(deltas) != 2 {
		t.Errorf("full = %q, deltas = %v", full, deltas)
	}
}

func TestOllamaEngine_PullModel(t *testing.T) {
	e := NewOllamaEngine(fakeDaemon(t, nil).URL)

	var got []PullProgress
	if err := e.PullModel(context.Background(), "qwen2.5-coder", func(p PullProgress) {
		got = append(got, p)
	}); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("received %d progress updates, want 3", len(got))
	}
	if got[1].Total != 1000 || got[1].Completed != 500 || got[2].Status != "success" {
		t.Errorf("progress = %+v", got)
	}

	if err := e.PullModel(context.Background(), "qwen2.5-coder", nil); err != nil {
		t.Errorf("PullModel without callback: %v", err)
	}
}

func TestOllamaEngine_ProbesThroughClient(t *testing.T) {
	e := NewOllamaEngine(fakeDaemon(t, nil).URL)

	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if !e.HasModel(context.Background(), "qwen2.5-coder") {
		t.Error("HasModel(qwen2.5-coder) = false, want true")
	}
}
