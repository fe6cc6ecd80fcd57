// Package main provides the agentrt CLI: a thin entry point that wires a
// streaming provider adapter, a tool registry and a session event-log store
// into one agent.Loop and drives it for a single prompt, for manual
// smoke-testing of the core runtime (spec §6 notes the CLI framing itself is
// out of scope; this binary exists only so the in-scope core is reachable).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/internal/config"
	"github.com/fankaidev/agentrt/internal/provider"
	"github.com/fankaidev/agentrt/internal/sessionlog"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentrt",
		Short:        "agentrt - streaming tool-using agent runtime",
		Long:         "agentrt drives a single-conversation agent loop against Anthropic or OpenAI, dispatching tool calls through a schema-validated registry and persisting every event to a replayable session log.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildPromptCmd(), buildReplayCmd())
	return rootCmd
}

// buildPromptCmd sends one prompt through a freshly built Loop and streams
// the resulting events to stdout until the call goes idle.
func buildPromptCmd() *cobra.Command {
	var (
		configPath   string
		providerName string
		model        string
		systemPrompt string
		apiKey       string
		baseURL      string
		sessionID    string
		sessionDB    string
		thinking     string
		maxTurns     int
	)

	cmd := &cobra.Command{
		Use:   "prompt [message]",
		Short: "Send one prompt and stream the agent's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("provider") {
				providerName = cfgFile.LLM.Provider
			}
			if !cmd.Flags().Changed("model") {
				model = cfgFile.LLM.Model
			}
			if !cmd.Flags().Changed("thinking") {
				thinking = string(cfgFile.LLM.ThinkingLevel)
			}

			adapter, resolvedProvider, err := buildAdapter(providerName, baseURL)
			if err != nil {
				return err
			}
			if apiKey == "" {
				apiKey = os.Getenv(envKeyFor(resolvedProvider))
			}
			if apiKey == "" {
				return fmt.Errorf("no API key: pass --api-key or set %s", envKeyFor(resolvedProvider))
			}

			store, err := sessionlog.OpenSQLiteStore(sessionDB)
			if err != nil {
				return fmt.Errorf("open session log: %w", err)
			}
			defer store.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			registry := agent.NewToolRegistry()
			registry.Register(echoTool())

			cfg := agent.DefaultLoopConfig()
			cfg.Adapter = adapter
			cfg.ProviderName = resolvedProvider
			cfg.Model = model
			cfg.SystemPrompt = systemPrompt
			cfg.APIKey = apiKey
			cfg.BaseURL = baseURL
			cfg.Registry = registry
			cfg.SessionLog = store
			cfg.SessionID = sessionID
			cfg.Metrics = agent.NewMetrics(prometheus.NewRegistry())
			cfg.ThinkingLevel = provider.ThinkingLevel(thinking)
			cfg.CacheRetention = cfgFile.LLM.CacheRetention
			cfg.ToolExec.Concurrency = cfgFile.ToolExec.Concurrency
			cfg.ToolExec.PerToolTimeout = cfgFile.ToolExec.PerToolTimeout
			cfg.ToolExec.MaxAttempts = cfgFile.ToolExec.MaxAttempts
			cfg.ToolExec.RetryBackoff = cfgFile.ToolExec.RetryBackoffCap
			if maxTurns > 0 {
				cfg.MaxTurns = maxTurns
			}

			loop := agent.NewLoop(cfg)
			stream := loop.Subscribe()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			go func() {
				defer close(done)
				for {
					ev, ok := stream.Next()
					if !ok {
						return
					}
					printEvent(out, ev)
					if ev.Type == agent.EventAgentEnd {
						return
					}
				}
			}()

			if err := loop.Prompt(ctx, agentmodel.NewTextBlock(args[0])); err != nil {
				return fmt.Errorf("prompt: %w", err)
			}

			select {
			case <-done:
			case <-ctx.Done():
				loop.Abort()
				<-done
			}

			fmt.Fprintf(out, "session: %s (db: %s)\n", sessionID, sessionDB)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file providing defaults (see internal/config)")
	cmd.Flags().StringVar(&providerName, "provider", "anthropic", "provider to call: anthropic or openai")
	cmd.Flags().StringVar(&model, "model", "claude-sonnet-4-5", "model id")
	cmd.Flags().StringVar(&systemPrompt, "system", "You are a helpful assistant with access to tools.", "system prompt")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider API key (defaults to $ANTHROPIC_API_KEY / $OPENAI_API_KEY)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "override the provider's API base URL")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id to append to (random if omitted)")
	cmd.Flags().StringVar(&sessionDB, "session-db", "agentrt.sqlite", "path to the sqlite session log")
	cmd.Flags().StringVar(&thinking, "thinking", string(provider.ThinkingOff), "thinking effort: off, low, medium, high")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "override the loop's max tool-use turns (0 keeps the default)")

	return cmd
}

// buildReplayCmd reconstructs and prints the message history of a past
// session from the sqlite session log, exercising the C5 Reconstruct path
// outside of a live Loop.
func buildReplayCmd() *cobra.Command {
	var sessionDB string

	cmd := &cobra.Command{
		Use:   "replay [session-id]",
		Short: "Reconstruct a session's message history from the session log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionlog.OpenSQLiteStore(sessionDB)
			if err != nil {
				return fmt.Errorf("open session log: %w", err)
			}
			defer store.Close()

			messages, err := store.Reconstruct(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reconstruct: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, m := range messages {
				if err := enc.Encode(m); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionDB, "session-db", "agentrt.sqlite", "path to the sqlite session log")
	return cmd
}

func buildAdapter(name, baseURL string) (provider.Adapter, string, error) {
	switch strings.ToLower(name) {
	case "", "anthropic":
		return provider.NewAnthropicAdapter(baseURL), "anthropic", nil
	case "openai":
		return provider.NewOpenAIAdapter(baseURL), "openai", nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q: must be anthropic or openai", name)
	}
}

func envKeyFor(providerName string) string {
	if providerName == "openai" {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// echoTool is the demo tool registered for smoke-testing: it echoes its
// "text" argument back as the tool result, so a model can exercise the full
// tool-call round trip without any external dependency.
func echoTool() agentmodel.ToolDescriptor {
	return agentmodel.ToolDescriptor{
		Name:        "echo",
		Label:       "Echo",
		Description: "Echoes the given text back, useful for testing tool round-trips.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Execute: func(_ agentmodel.CancellationHandle, _ string, args json.RawMessage, _ agentmodel.PartialUpdateSink) (*agentmodel.ToolResult, error) {
			var parsed struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return nil, fmt.Errorf("parse args: %w", err)
			}
			return &agentmodel.ToolResult{Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock(parsed.Text)}}, nil
		},
	}
}

// printEvent renders one agent event as a single human-readable line, the
// way a smoke-test CLI needs rather than the full JSON a session log stores.
func printEvent(out io.Writer, ev agent.AgentEvent) {
	ts := ev.Time.Format(time.RFC3339)
	switch ev.Type {
	case agent.EventMessageUpdate:
		if ev.Message != nil && ev.Message.DeltaText != "" {
			fmt.Fprint(out, ev.Message.DeltaText)
		}
	case agent.EventToolExecutionStart:
		if ev.ToolExecution != nil {
			fmt.Fprintf(out, "\n[%s] tool %s started\n", ts, ev.ToolExecution.ToolName)
		}
	case agent.EventToolExecutionEnd:
		if ev.ToolExecution != nil {
			fmt.Fprintf(out, "[%s] tool %s finished\n", ts, ev.ToolExecution.ToolName)
		}
	case agent.EventTurnEnd:
		if ev.Error != nil {
			fmt.Fprintf(out, "\n[%s] turn %d error: %s (%s)\n", ts, ev.TurnIndex, ev.Error.Message, ev.Error.Kind)
		}
	case agent.EventAgentEnd:
		fmt.Fprintf(out, "\n[%s] run %s done\n", ts, ev.RunID)
	}
}
