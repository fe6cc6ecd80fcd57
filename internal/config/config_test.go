package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/internal/provider"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), *cfg)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: claude-opus-4
tool_exec:
  concurrency: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", cfg.LLM.Model)
	require.Equal(t, 8, cfg.ToolExec.Concurrency)
	// untouched fields keep their defaults
	require.Equal(t, provider.ThinkingOff, cfg.LLM.ThinkingLevel)
	require.Equal(t, 30*time.Second, cfg.ToolExec.PerToolTimeout)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("AGENTRT_TEST_MODEL", "claude-haiku-4")
	path := writeConfig(t, `
llm:
  model: "${AGENTRT_TEST_MODEL}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", cfg.LLM.Model)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: claude-opus-4
  bogus_field: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "llm:\n  model: a\n---\nllm:\n  model: b\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestDefault_HasSaneValues(t *testing.T) {
	d := Default()
	require.Equal(t, provider.CacheRetentionShort, d.LLM.CacheRetention)
	require.Equal(t, 4, d.ToolExec.Concurrency)
	require.Equal(t, 1, d.ToolExec.MaxAttempts)
	require.Equal(t, "info", d.Logging.Level)
}
