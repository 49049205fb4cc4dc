package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.True(t, s.Comment.Enabled)
	assert.Equal(t, 0.6, s.Comment.ReplyThreshold)
	assert.Equal(t, 600, s.DedupeTTL)
	assert.Equal(t, 3, s.EventPriority["gift"])
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeSettings(t, `
comment:
  reply_threshold: 0.4
outbox:
  window_seconds: 25
`)
	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.4, s.Comment.ReplyThreshold)
	assert.Equal(t, 25, s.Outbox.WindowSeconds)
	// untouched sections keep their defaults
	assert.Equal(t, 15, s.Comment.PerUserCooldown)
	assert.Equal(t, "session", s.Persona.Scope)
}

func TestBadThresholdDisablesComments(t *testing.T) {
	path := writeSettings(t, "comment:\n  reply_threshold: 1.5\n")
	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.False(t, s.Comment.Enabled)
}

func TestBadClampDisablesDrift(t *testing.T) {
	path := writeSettings(t, `
persona:
  clamps:
    formal: {min: 0.8, max: 0.2}
`)
	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Zero(t, s.Persona.Volatility)
	assert.Empty(t, s.Persona.Triggers)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LLM_MODEL", "local-test-model")
	path := writeSettings(t, "llm:\n  model: file-model\n")
	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "local-test-model", s.LLM.Model)
}

func TestCorruptFileReturnsError(t *testing.T) {
	path := writeSettings(t, "comment: [not: a: mapping\n")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLevelParsing(t *testing.T) {
	s := Defaults()
	s.LogLevel = "debug"
	assert.Equal(t, "DEBUG", s.Level().String())
	s.LogLevel = "nonsense"
	assert.Equal(t, "INFO", s.Level().String())
}
