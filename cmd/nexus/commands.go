package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/memory"
	"github.com/kalambet/nexus/internal/session"
)

var stdin io.Reader = os.Stdin

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send a message to the active session",
	Long: `Send a message to a session and stream the reply.

With no message, chat reads one message per line from stdin until EOF.

Examples:
  nexus chat "explain goroutine leaks"
  nexus chat --session 3f1c... "and how do I detect them?"
  nexus chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		ctx := commandContext(cmd)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if sessionID == "" {
			sessionID, err = resolveSession(ctx, client)
			if err != nil {
				return err
			}
		}

		if len(args) > 0 {
			return sendTurn(ctx, client, sessionID, strings.Join(args, " "))
		}

		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for {
			fmt.Fprint(stderr, colorize(colorBold, "> "))
			if !scanner.Scan() {
				fmt.Fprintln(stderr)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := sendTurn(ctx, client, sessionID, line); err != nil {
				printError("%v", err)
			}
		}
	},
}

func init() {
	chatCmd.Flags().String("session", "", "session ID (defaults to the active session)")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// resolveSession returns the active session, creating one when the server
// has none yet.
func resolveSession(ctx context.Context, client *apiClient) (string, error) {
	resp, err := client.get(ctx, "/v1/sessions/active")
	if err != nil {
		return "", err
	}
	var active chat.Session
	err = decodeJSON(resp, &active)
	if err == nil {
		return active.ID, nil
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		return "", err
	}

	resp, err = client.post(ctx, "/v1/sessions", nil)
	if err != nil {
		return "", err
	}
	var created chat.Session
	if err := decodeJSON(resp, &created); err != nil {
		return "", err
	}
	printStep("Started session %s", created.ID)
	return created.ID, nil
}

// sendTurn streams one reply to stdout. Progress and per-turn statistics go
// to stderr.
func sendTurn(ctx context.Context, client *apiClient, sessionID, content string) error {
	var turnErr error
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	err := client.stream(ctx, path, map[string]string{"content": content}, func(e session.Event) {
		switch e.Type {
		case session.EventToken:
			fmt.Fprint(stdout, e.Text)
		case session.EventProgress:
			if e.Progress != nil {
				printStep("%s (%.0f%%)", e.Progress.Text, e.Progress.Fraction*100)
			}
		case session.EventComplete:
			fmt.Fprintln(stdout)
			if e.Message != nil {
				printTurnMeta(*e.Message)
			}
		case session.EventError:
			fmt.Fprintln(stdout)
			turnErr = errors.New(e.Error)
		}
	})
	if err != nil {
		return err
	}
	return turnErr
}

func printTurnMeta(m chat.Message) {
	parts := []string{fmt.Sprintf("%d tok/s", m.TokensPerSec)}
	if m.Task != "" {
		parts = append(parts, string(m.Task))
	}
	if m.Personalized {
		parts = append(parts, fmt.Sprintf("%d memories", len(m.Sources)))
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, fmt.Sprintf("tool %s(%s)", tc.Name, tc.Input))
	}
	printMeta("[%s]", strings.Join(parts, " · "))
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), "/v1/sessions")
		if err != nil {
			return err
		}
		var list []session.Summary
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(stderr, "No sessions.")
			return nil
		}
		for _, s := range list {
			marker := " "
			if s.Active {
				marker = colorize(colorGreen, "*")
			}
			fmt.Fprintf(stdout, "%s %s  %-24s  %3d msgs  %s\n",
				marker, s.ID, s.Title, s.MessageCount, s.LastModified.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and make it active",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(commandContext(cmd), "/v1/sessions", nil)
		if err != nil {
			return err
		}
		var s chat.Session
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printSuccess("Created session %s", s.ID)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var s chat.Session
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}

		fmt.Fprintln(stdout, colorize(colorBold, s.Title))
		for _, m := range s.Messages {
			fmt.Fprintf(stdout, "\n%s\n%s\n", colorize(colorCyan, string(m.Role)+":"), m.Content)
		}
		return nil
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(commandContext(cmd), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a session active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(commandContext(cmd), "/v1/sessions/"+url.PathEscape(args[0])+"/active", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Active session is now %s", args[0])
		return nil
	},
}

func init() {
	sessionsShowCmd.Flags().Bool("json", false, "print the raw session JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
	sessionsCmd.AddCommand(sessionsUseCmd)
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and curate the identity vault",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), "/v1/memory")
		if err != nil {
			return err
		}
		var entries []memory.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(stderr, "The vault is empty.")
			return nil
		}
		for _, e := range entries {
			pin := " "
			if e.Pinned {
				pin = colorize(colorYellow, "📌")
			}
			fmt.Fprintf(stdout, "%s %s  [%s]  %s\n", pin, e.ID, e.Type, e.Text)
		}
		return nil
	},
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Show the memories a query would retrieve",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{"q": {strings.Join(args, " ")}}
		resp, err := client.get(commandContext(cmd), "/v1/memory/recall?"+q.Encode())
		if err != nil {
			return err
		}
		var result struct {
			Memories []string `json:"memories"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Memories) == 0 {
			fmt.Fprintln(stderr, "No relevant memories.")
			return nil
		}
		for _, m := range result.Memories {
			fmt.Fprintf(stdout, "- %s\n", m)
		}
		return nil
	},
}

var memoryPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Toggle the pin on a memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(commandContext(cmd), "/v1/memory/"+url.PathEscape(args[0])+"/pin", nil)
		if err != nil {
			return err
		}
		var result struct {
			ID     string `json:"id"`
			Pinned bool   `json:"is_pinned"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Pinned {
			printSuccess("Pinned %s", result.ID)
		} else {
			printSuccess("Unpinned %s", result.ID)
		}
		return nil
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete a memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(commandContext(cmd), "/v1/memory/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Forgot %s", args[0])
		return nil
	},
}

func init() {
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryRecallCmd)
	memoryCmd.AddCommand(memoryPinCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the selected provider offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		resp, err := client.get(ctx, "/v1/models")
		if err != nil {
			return err
		}
		var list struct {
			Provider string   `json:"provider"`
			Models   []string `json:"models"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		selected := selectedModel(ctx, client, list.Provider)
		printStatus("Provider", "%s", list.Provider)
		if len(list.Models) == 0 {
			fmt.Fprintln(stderr, "No models available.")
			return nil
		}
		for _, m := range list.Models {
			if m == selected {
				fmt.Fprintf(stdout, "%s %s\n", colorize(colorGreen, "*"), m)
				continue
			}
			fmt.Fprintf(stdout, "  %s\n", m)
		}
		return nil
	},
}

// selectedModel reads the model key that applies to provider from the
// running server's configuration. It returns "" when that is unavailable.
func selectedModel(ctx context.Context, client *apiClient, provider string) string {
	key := map[string]string{
		config.ProviderOffline:  "offline.model",
		config.ProviderLMStudio: "lmstudio.model",
		config.ProviderCloud:    "cloud.model",
	}[provider]
	if key == "" {
		return ""
	}

	resp, err := client.get(ctx, "/v1/config")
	if err != nil {
		return ""
	}
	var keys []config.KeyInfo
	if decodeJSON(resp, &keys) != nil {
		return ""
	}
	var model, active string
	for _, k := range keys {
		switch k.Key {
		case key:
			model = k.Value
		case "model.active":
			active = k.Value
		}
	}
	if model == "" {
		return active
	}
	return model
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

When the server is running the change is applied live and persisted by the
server; otherwise it is written directly to the config backend.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.Validate(key, value); err != nil {
			return err
		}

		live, err := patchLive(commandContext(cmd), key, value)
		if err != nil {
			return err
		}
		if !live {
			if err := config.SetKey(key, value); err != nil {
				return err
			}
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

// patchLive patches the running server; a nil value restores the default.
// It reports false without error when the server cannot be reached.
func patchLive(ctx context.Context, key string, value any) (bool, error) {
	client, err := newAPIClient()
	if err != nil {
		return false, nil
	}
	resp, err := client.patch(ctx, "/v1/config", map[string]any{key: value})
	if err != nil {
		return false, nil
	}
	if err := decodeJSON(resp, nil); err != nil {
		return false, err
	}
	return true, nil
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if err := config.ValidateKey(key); err != nil {
			return err
		}

		live, err := patchLive(commandContext(cmd), key, nil)
		if err != nil {
			return err
		}
		if !live {
			if err := config.ResetKey(key); err != nil {
				return err
			}
		}

		printSuccess("Reset %s to its default", key)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		printWarning("Restart the server for the new secret to take effect")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
