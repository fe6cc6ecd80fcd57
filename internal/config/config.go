// Package config loads the small YAML-backed configuration bundle
// agentrt needs (SPEC_FULL.md §2 Ambient Stack: configuration):
// default model/thinking level, tool-exec concurrency and timeout
// defaults, cache-control retention policy, and the retry-delay cap.
// Everything server/gateway/channel/marketplace shaped in the teacher's
// own Config is out of scope.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fankaidev/agentrt/internal/provider"
)

// Config is the full configuration bundle, loaded from one YAML document.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	ToolExec ToolExecConfig `yaml:"tool_exec"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LLMConfig covers the defaults a Loop is built from absent CLI overrides.
type LLMConfig struct {
	Provider       string                  `yaml:"provider"`
	Model          string                  `yaml:"model"`
	ThinkingLevel  provider.ThinkingLevel  `yaml:"thinking_level"`
	MaxTokens      int                     `yaml:"max_tokens"`
	CacheRetention provider.CacheRetention `yaml:"cache_retention"`
}

// ToolExecConfig mirrors the tuning knobs of agent.ToolExecConfig, kept
// as plain fields here since agent.ToolExecConfig itself carries a
// *slog.Logger that has no YAML representation.
type ToolExecConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	PerToolTimeout  time.Duration `yaml:"per_tool_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBackoffCap time.Duration `yaml:"retry_backoff_cap"`
}

// LoggingConfig holds the configured slog level (spec §2 Ambient Stack).
// Load fills it in, but nothing in this module applies it: the agentrt
// CLI always logs at info level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is loaded.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-5",
			ThinkingLevel:  provider.ThinkingOff,
			MaxTokens:      4096,
			CacheRetention: provider.CacheRetentionShort,
		},
		ToolExec: ToolExecConfig{
			Concurrency:     4,
			PerToolTimeout:  30 * time.Second,
			MaxAttempts:     1,
			RetryBackoffCap: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, expands environment variables, and merges the result
// over Default() (grounded on the teacher's internal/config.Load:
// os.ExpandEnv before decode, strict single-document decode, then
// defaults applied to anything left zero).
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills in anything the loaded document left zero, the way
// the teacher's applyDefaults family does per-section.
func applyDefaults(cfg *Config) {
	defaults := Default()
	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.ThinkingLevel == "" {
		cfg.LLM.ThinkingLevel = defaults.LLM.ThinkingLevel
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	if cfg.LLM.CacheRetention == "" {
		cfg.LLM.CacheRetention = defaults.LLM.CacheRetention
	}
	if cfg.ToolExec.Concurrency <= 0 {
		cfg.ToolExec.Concurrency = defaults.ToolExec.Concurrency
	}
	if cfg.ToolExec.PerToolTimeout <= 0 {
		cfg.ToolExec.PerToolTimeout = defaults.ToolExec.PerToolTimeout
	}
	if cfg.ToolExec.MaxAttempts <= 0 {
		cfg.ToolExec.MaxAttempts = defaults.ToolExec.MaxAttempts
	}
	if cfg.ToolExec.RetryBackoffCap <= 0 {
		cfg.ToolExec.RetryBackoffCap = defaults.ToolExec.RetryBackoffCap
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
}
