package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/nexus/internal/composer"
	"github.com/kalambet/nexus/internal/config"
)

// GenerateOptions configures one native generation.
type GenerateOptions struct {
	Model   string
	Threads int
}

// Generator is a callback-based generation primitive. Generate starts
// producing tokens for prompt and returns once generation has started;
// tokens arrive on onToken until the work is done or ctx is cancelled.
// There is no completion signal.
type Generator interface {
	Generate(ctx context.Context, opts GenerateOptions, prompt string, onToken func(string)) error
}

// CommandGenerator runs a child process per generation. The prompt is
// written to its stdin and every chunk read from stdout is a token.
type CommandGenerator struct {
	Command string
}

func (g CommandGenerator) Generate(ctx context.Context, opts GenerateOptions, prompt string, onToken func(string)) error {
	fields := strings.Fields(g.Command)
	if len(fields) == 0 {
		return errors.New("native command is empty")
	}
	args := append(fields[1:], "--model", opts.Model, "--threads", strconv.Itoa(opts.Threads))
	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening native stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting native engine: %w", err)
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				onToken(string(buf[:n]))
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("reading native engine output", "error", err)
				}
				break
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("native engine exited", "command", fields[0], "error", err)
		}
	}()
	return nil
}

// nativeProvider drives a Generator and synthesizes completion: the turn
// resolves once no token has arrived for the configured idle window.
type nativeProvider struct {
	gen Generator
}

func (p *nativeProvider) Name() string { return config.ProviderNative }

// nativeThreads returns the configured thread budget, or a CPU-based
// default that leaves headroom for the rest of the system.
func nativeThreads(configured int) int {
	if configured > 0 {
		return configured
	}
	switch cpus := runtime.NumCPU(); {
	case cpus <= 4:
		return 2
	case cpus <= 6:
		return 3
	default:
		return 4
	}
}

func (p *nativeProvider) StreamChat(ctx context.Context, req Request, onDelta func(string), _ func(Progress)) (string, error) {
	cfg := req.Config
	idle := cfg.Native.IdleWindow
	if idle <= 0 {
		idle = config.Defaults().Native.IdleWindow
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		full     strings.Builder
		resolved bool
	)
	activity := make(chan struct{}, 1)

	prompt := composer.NativePrompt(req.System, req.History)
	opts := GenerateOptions{Model: modelFor(cfg, req.Task), Threads: nativeThreads(cfg.Native.Threads)}
	err := p.gen.Generate(genCtx, opts, prompt, func(tok string) {
		if tok == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if resolved {
			return
		}
		full.WriteString(tok)
		if onDelta != nil {
			onDelta(tok)
		}
		select {
		case activity <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return "", transportError(err, "Native engine failed to start: %v", err)
	}

	finish := func() string {
		mu.Lock()
		defer mu.Unlock()
		resolved = true
		return full.String()
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			return finish(), nil
		case <-ctx.Done():
			return finish(), transportError(ctx.Err(), "Generation interrupted: %v", ctx.Err())
		}
	}
}
