package pipeline

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/composer"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/intent"
	"github.com/kalambet/nexus/internal/provider"
	"github.com/kalambet/nexus/internal/stream"
	"github.com/kalambet/nexus/internal/tools"
)

const (
	// IdentityVault is the source label attached when memory shaped a turn.
	IdentityVault = "Identity Vault"

	learnThreshold = 50
)

// ProviderFactory resolves the backend for a configuration.
type ProviderFactory interface {
	New(cfg config.Config) (provider.Provider, error)
}

// Retriever returns memory texts relevant to a query.
type Retriever interface {
	Retrieve(query string) []string
}

// Learner records a finished exchange. Implementations must not block on
// the learning itself.
type Learner interface {
	Learn(query, response string) error
}

// Result is what a completed turn produced.
type Result struct {
	Text         string
	Task         chat.TaskType
	Plan         chat.Plan
	Steps        []chat.Step
	Sources      []string
	ToolCalls    []chat.ToolCall
	Personalized bool
	TokensPerSec int
}

// Callbacks receive the progress of one turn. Any of them may be nil.
// OnToken is called with frame-batched text and the running token rate.
type Callbacks struct {
	OnSteps    func([]chat.Step)
	OnToken    func(text string, tokensPerSec int)
	OnProgress func(provider.Progress)
	OnComplete func(Result)
	OnError    func(error)
}

// Orchestrator runs chat turns: it classifies the request, reports plan
// steps, consults memory, shapes the system instruction, streams the
// selected provider and hands the exchange to the learner.
type Orchestrator struct {
	providers ProviderFactory
	memory    Retriever
	learner   Learner

	estimate  composer.TokenEstimator
	scheduler func(frame time.Duration) stream.Scheduler
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTokenEstimator replaces the character-based token estimate used for
// the live rate.
func WithTokenEstimator(fn composer.TokenEstimator) Option {
	return func(o *Orchestrator) { o.estimate = fn }
}

// WithScheduler replaces the frame scheduler used to pace token delivery.
func WithScheduler(fn func(frame time.Duration) stream.Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = fn }
}

// NewOrchestrator creates an Orchestrator. memory and learner may be nil.
func NewOrchestrator(providers ProviderFactory, memory Retriever, learner Learner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		memory:    memory,
		learner:   learner,
		estimate:  composer.EstimateTokens,
		scheduler: func(frame time.Duration) stream.Scheduler {
			return stream.FrameScheduler{Interval: frame}
		},
		sleep: sleepCtx,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type originKey struct{}

// WithOrigin records the scheme and host of the client driving a turn.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin recorded by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}

// Stream runs one turn over history, whose last user message is the
// request. Callbacks fire on the calling goroutine except OnToken, which is
// driven by the frame scheduler. The returned error is the one passed to
// OnError; steps are not forced complete on failure.
func (o *Orchestrator) Stream(ctx context.Context, cfg config.Config, history []chat.Message, cb Callbacks) error {
	query := chat.LastUserMessage(history)
	task := intent.Classify(query)
	plan := intent.Plan(query, task)
	steps := intent.Steps(plan)

	notify := func() {
		if cb.OnSteps != nil {
			cb.OnSteps(chat.CopySteps(steps))
		}
	}
	fail := func(err error) error {
		slog.Debug("turn failed", "task", task, "error", err)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	// Contextualizing.
	steps[0].Status = chat.StepActive
	notify()
	if err := o.sleep(ctx, cfg.Generation.SettleDelay); err != nil {
		return fail(err)
	}
	steps[0].Status = chat.StepComplete

	// Retrieving memory.
	steps[1].Status = chat.StepActive
	notify()
	var personal string
	var sources []string
	if cfg.Memory.Enabled && o.memory != nil {
		if memories := o.memory.Retrieve(query); len(memories) > 0 {
			personal = composer.PersonalContext(memories)
			sources = []string{IdentityVault}
		}
	}
	steps[1].Status = chat.StepComplete

	// Generating.
	steps[2].Status = chat.StepActive
	notify()

	system := composer.SystemInstruction(composer.Instruction{
		Task:            task,
		Mode:            intent.ModeFor(task),
		PersonalContext: personal,
		Tools:           tools.Available,
	})
	p, err := o.providers.New(cfg)
	if err != nil {
		return fail(err)
	}

	genCtx := ctx
	if cfg.Generation.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, cfg.Generation.Timeout)
		defer cancel()
	}

	em := stream.New(o.scheduler(cfg.Stream.FrameInterval))
	var (
		mu     sync.Mutex
		full   strings.Builder
		rate   int
		closed bool
	)
	start := o.now()
	onDelta := func(delta string) {
		mu.Lock()
		if closed {
			mu.Unlock()
			return
		}
		full.WriteString(delta)
		elapsed := math.Max(0.001, o.now().Sub(start).Seconds())
		r := int(math.Round(o.estimate(full.String()) / elapsed))
		rate = r
		mu.Unlock()

		em.Push(delta, func(batch string) {
			if cb.OnToken != nil {
				cb.OnToken(batch, r)
			}
		})
	}

	slog.Debug("dispatching turn", "provider", p.Name(), "task", task, "personalized", personal != "")
	text, err := p.StreamChat(genCtx, provider.Request{
		Config:  cfg,
		Task:    task,
		System:  system,
		History: history,
		Origin:  OriginFrom(ctx),
	}, onDelta, cb.OnProgress)

	mu.Lock()
	closed = true
	finalRate := rate
	if text == "" {
		text = full.String()
	}
	mu.Unlock()
	em.Drain()

	if err != nil {
		return fail(err)
	}

	// Completed.
	var calls []chat.ToolCall
	if call := tools.Detect(text); call != nil {
		calls = append(calls, *call)
	}
	for i := range steps {
		steps[i].Status = chat.StepComplete
	}
	notify()

	if cb.OnComplete != nil {
		cb.OnComplete(Result{
			Text:         text,
			Task:         task,
			Plan:         plan,
			Steps:        chat.CopySteps(steps),
			Sources:      sources,
			ToolCalls:    calls,
			Personalized: personal != "",
			TokensPerSec: finalRate,
		})
	}

	if o.learner != nil && utf8.RuneCountInString(text) > learnThreshold {
		if err := o.learner.Learn(query, text); err != nil {
			slog.Warn("queueing memory learn failed", "error", err)
		}
	}
	return nil
}
