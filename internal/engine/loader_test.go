package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoader_DeduplicatesConcurrentLoads(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{},
		pullGate:  make(chan struct{}),
	}
	l := NewLoader(m)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Load(context.Background(), "qwen2.5-coder", nil)
		}(i)
	}

	// Let every caller join the in-flight load before it finishes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		started := len(m.pulled)
		m.mu.Unlock()
		if started > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(m.pullGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Load[%d]: %v", i, err)
		}
	}
	if len(m.pulled) != 1 {
		t.Errorf("pulled %d times, want 1", len(m.pulled))
	}
	if len(m.warmed) != 1 {
		t.Errorf("warmed %d times, want 1", len(m.warmed))
	}
	if !l.Loaded("qwen2.5-coder") {
		t.Error("model not marked loaded")
	}
}

func TestLoader_LoadedModelSkipsEngine(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"phi3": true}}
	l := NewLoader(m)

	if err := l.Load(context.Background(), "phi3", nil); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	var got []Progress
	if err := l.Load(context.Background(), "phi3", func(p Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(m.warmed) != 1 {
		t.Errorf("warmed %d times, want 1", len(m.warmed))
	}
	if len(got) != 1 || got[0].Fraction != 1 {
		t.Errorf("progress = %+v, want a single ready report", got)
	}
}

func TestLoader_ProgressThrottled(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	for i := 1; i <= 100; i++ {
		m.progress = append(m.progress, PullProgress{Status: "downloading", Total: 100, Completed: int64(i)})
	}
	l := NewLoader(m)
	l.progressInterval = time.Hour

	var got []Progress
	err := l.Load(context.Background(), "phi3", func(p Progress) { got = append(got, p) })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var pulls int
	for _, p := range got {
		if p.Text == "downloading" {
			pulls++
		}
	}
	if pulls != 1 {
		t.Errorf("forwarded %d pull reports, want 1", pulls)
	}
	if last := got[len(got)-1]; last.Text != "ready" || last.Fraction != 1 {
		t.Errorf("last progress = %+v, want ready", last)
	}
}

func TestLoader_CallerContextCancelled(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, pullGate: make(chan struct{})}
	defer close(m.pullGate)
	l := NewLoader(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Load(ctx, "phi3", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
