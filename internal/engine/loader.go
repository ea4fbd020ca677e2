package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	defaultProgressInterval = 250 * time.Millisecond
	warmUpTimeout           = 30 * time.Second
)

// Loader makes models resident on an Engine. Concurrent loads of the same
// model share one in-flight operation; every caller waiting on it receives
// its progress reports.
type Loader struct {
	eng              Engine
	progressInterval time.Duration

	group singleflight.Group

	mu        sync.Mutex
	loaded    map[string]bool
	nextSub   int
	listeners map[string]map[int]func(Progress)
}

// NewLoader creates a Loader for eng.
func NewLoader(eng Engine) *Loader {
	return &Loader{
		eng:              eng,
		progressInterval: defaultProgressInterval,
		loaded:           make(map[string]bool),
		listeners:        make(map[string]map[int]func(Progress)),
	}
}

// Engine returns the engine models are loaded on.
func (l *Loader) Engine() Engine {
	return l.eng
}

// Loaded reports whether model has completed a load in this process.
func (l *Loader) Loaded(model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[model]
}

// Load pulls model if it is missing and warms it up. onProgress may be nil.
// The shared load is detached from ctx so one caller giving up does not
// cancel it for the others; ctx only bounds how long this caller waits.
func (l *Loader) Load(ctx context.Context, model string, onProgress func(Progress)) error {
	if l.Loaded(model) {
		if onProgress != nil {
			onProgress(Progress{Model: model, Text: "ready", Fraction: 1})
		}
		return nil
	}

	if onProgress != nil {
		id := l.subscribe(model, onProgress)
		defer l.unsubscribe(model, id)
	}

	ch := l.group.DoChan(model, func() (any, error) {
		return nil, l.load(context.WithoutCancel(ctx), model)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context, model string) error {
	limiter := rate.NewLimiter(rate.Every(l.progressInterval), 1)

	if !l.eng.HasModel(ctx, model) {
		l.broadcast(Progress{Model: model, Text: "pulling " + model})
		err := l.eng.PullModel(ctx, model, func(p PullProgress) {
			if !limiter.Allow() {
				return
			}
			var frac float64
			if p.Total > 0 {
				frac = float64(p.Completed) / float64(p.Total)
			}
			l.broadcast(Progress{Model: model, Text: p.Status, Fraction: frac})
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}

	l.broadcast(Progress{Model: model, Text: "loading " + model, Fraction: 1})
	warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if _, err := l.eng.Chat(warmCtx, model, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		slog.Warn("model warm-up failed", "model", model, "error", err)
	}

	l.mu.Lock()
	l.loaded[model] = true
	l.mu.Unlock()

	l.broadcast(Progress{Model: model, Text: "ready", Fraction: 1})
	return nil
}

func (l *Loader) subscribe(model string, fn func(Progress)) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSub++
	if l.listeners[model] == nil {
		l.listeners[model] = make(map[int]func(Progress))
	}
	l.listeners[model][l.nextSub] = fn
	return l.nextSub
}

func (l *Loader) unsubscribe(model string, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listeners[model], id)
	if len(l.listeners[model]) == 0 {
		delete(l.listeners, model)
	}
}

func (l *Loader) broadcast(p Progress) {
	l.mu.Lock()
	fns := make([]func(Progress), 0, len(l.listeners[p.Model]))
	for _, fn := range l.listeners[p.Model] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}
