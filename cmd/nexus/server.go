package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nexus/internal/api"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/engine"
	"github.com/kalambet/nexus/internal/learning"
	"github.com/kalambet/nexus/internal/memory"
	"github.com/kalambet/nexus/internal/pipeline"
	"github.com/kalambet/nexus/internal/provider"
	"github.com/kalambet/nexus/internal/session"
	"github.com/kalambet/nexus/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nexus server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		skipPreflight, _ := cmd.Flags().GetBool("skip-preflight")
		return runServer(withMCP, skipPreflight)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nexus server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nexus system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	startCmd.Flags().Bool("skip-preflight", false, "do not wait for the on-device engine to load the model")
}

// jobRetention is how long finished learn jobs are kept for inspection.
const jobRetention = 7 * 24 * time.Hour

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nexus.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// preflightModels lists the models the offline engine should have loaded
// before the server accepts turns.
func preflightModels(cfg config.Config) []string {
	if cfg.Offline.Model != "" {
		return []string{cfg.Offline.Model}
	}
	return []string{cfg.Model.Active, cfg.Model.Reasoning}
}

func runServer(withMCP, skipPreflight bool) error {
	fmt.Fprintf(stderr, "nexus version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nexus is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("nexus is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := provider.NewFactory()
	if cfg.Provider == config.ProviderOffline && !skipPreflight {
		if err := engine.EnsureReady(ctx, factory.Loader(cfg.Offline.BaseURL), preflightModels(cfg), stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if n, err := store.PruneJobs(time.Now().Add(-jobRetention)); err != nil {
		slog.Warn("pruning finished jobs", "error", err)
	} else if n > 0 {
		slog.Debug("pruned finished jobs", "count", n)
	}

	vault, err := memory.Open(store)
	if err != nil {
		return fmt.Errorf("opening memory: %w", err)
	}
	learner := learning.NewWorker(store, vault, 500*time.Millisecond)

	holder := config.NewHolder(cfg)
	orchestrator := pipeline.NewOrchestrator(factory, vault, learner)
	sessions, err := session.Open(store, orchestrator, holder)
	if err != nil {
		return fmt.Errorf("opening sessions: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Memory:   vault,
		Settings: holder,
		Listers:  factory,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		learner.Run(gctx)
		return nil
	})

	g.Go(func() error {
		fmt.Fprintf(stderr, "nexus listening on %s (provider %s)\n", addr, cfg.Provider)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Memory: vault, Sessions: sessions})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nexus is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nexus (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nexus (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	running := reportServer(ctx, client, cfg.Server.Port)

	printStatus("Provider", "%s", cfg.Provider)
	switch cfg.Provider {
	case config.ProviderOffline:
		if engine.NewOllamaEngine(cfg.Offline.BaseURL).IsRunning(ctx) {
			printStatus("Engine", "running at %s", cfg.Offline.BaseURL)
		} else {
			printStatus("Engine", "not running at %s", cfg.Offline.BaseURL)
		}
	case config.ProviderLMStudio:
		printStatus("LM Studio", "%s (model %s)", cfg.LMStudio.BaseURL, orUnset(cfg.LMStudio.Model))
	case config.ProviderNative:
		printStatus("Native command", "%s", orUnset(cfg.Native.Command))
	case config.ProviderCloud:
		printStatus("Cloud model", "%s", cfg.Cloud.Model)
	}

	printStatus("Active model", "%s", cfg.Model.Active)
	printStatus("Reasoning model", "%s", cfg.Model.Reasoning)
	printStatus("Profile", "%s", cfg.Performance.Profile)
	printStatus("Memory", "%s", enabledLabel(cfg.Memory.Enabled))

	if running {
		if resp, err := client.get(ctx, "/v1/memory"); err == nil {
			var entries []memory.Entry
			if decodeJSON(resp, &entries) == nil {
				printStatus("Memories", "%d", len(entries))
			}
		}
		if resp, err := client.get(ctx, "/v1/sessions"); err == nil {
			var sessions []session.Summary
			if decodeJSON(resp, &sessions) == nil {
				printStatus("Sessions", "%d", len(sessions))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func reportServer(ctx context.Context, client *apiClient, port int) bool {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return false
	}
	printStatus("Server", "running on port %d", port)
	return true
}

func orUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}

func enabledLabel(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
