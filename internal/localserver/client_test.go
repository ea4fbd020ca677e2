package localserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func userMessages() []Message {
	return []Message{{Role: "user", Content: "hi"}}
}

func TestChatStream(t *testing.T) {
	var captured ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Here\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"'s\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" code\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	var deltas []string
	c := NewClient(srv.URL, "lm-studio")
	full, err := c.ChatStream(context.Background(), ChatRequest{
		Model:       "qwen2.5-7b-instruct",
		Messages:    userMessages(),
		Temperature: 0.7,
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if full != "Here's code" {
		t.Errorf("full = %q, want %q", full, "Here's code")
	}
	if strings.Join(deltas, "|") != "Here|'s| code" {
		t.Errorf("deltas = %q", deltas)
	}
	if !captured.Stream || captured.Temperature != 0.7 || captured.Model != "qwen2.5-7b-instruct" {
		t.Errorf("request = %+v", captured)
	}
}

func TestChatStream_AuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "secret").ChatStream(context.Background(), ChatRequest{}, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer secret")
	}
}

func TestChatStream_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no model loaded", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").ChatStream(context.Background(), ChatRequest{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Body != "no model loaded" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestChatStream_ContextCancellation(t *testing.T) {
	received := make(chan struct{})
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-handlerDone
	}))
	defer srv.Close()
	defer close(handlerDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		full string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		full, err := NewClient(srv.URL, "").ChatStream(ctx, ChatRequest{}, func(string) { close(received) })
		done <- result{full, err}
	}()

	<-received
	cancel()

	select {
	case res := <-done:
		var se *StreamError
		if !errors.As(res.err, &se) {
			t.Fatalf("err = %v, want *StreamError", res.err)
		}
		if res.full != "partial" || se.Partial != "partial" {
			t.Errorf("partial = %q / %q, want %q", res.full, se.Partial, "partial")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ChatStream did not return promptly after context cancellation")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer lm-studio" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(ModelList{
			Object: "list",
			Data: []Model{
				{ID: "qwen2.5-7b-instruct", Object: "model"},
				{ID: "phi-3-mini-4k", Object: "model"},
			},
		})
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL+"/", "lm-studio").ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	want := []string{"qwen2.5-7b-instruct", "phi-3-mini-4k"}
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i].ID != w {
			t.Errorf("models[%d].ID = %q, want %q", i, models[i].ID, w)
		}
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelList{Object: "list"})
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL, "").ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want 0", len(models))
	}
}
