package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
model:
  provider: openai
  model: gpt-4o
  max_tokens: 2048
tools:
  sandbox_root: /work/repo
  allowed_hosts:
    - docs.example.com
    - "*.internal.example.com"
  dry_run: true
limits:
  max_wall_clock: 10m
  max_cost_units: 2.5
  max_depth: 16
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "openai", s.Model.Provider)
	assert.Equal(t, "gpt-4o", s.Model.Model)
	assert.Equal(t, 2048, s.Model.MaxTokens)
	assert.Equal(t, "/work/repo", s.Tools.SandboxRoot)
	assert.Equal(t, []string{"docs.example.com", "*.internal.example.com"}, s.Tools.AllowedHosts)
	require.NotNil(t, s.Tools.DryRun)
	assert.True(t, *s.Tools.DryRun)
	assert.Equal(t, 10*time.Minute, s.Limit.MaxWallClock)
	assert.Equal(t, 2.5, s.Limit.MaxCostUnits)
	assert.Equal(t, 16, s.Limit.MaxDepth)
}

func TestParseEmpty(t *testing.T) {
	s, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s, "empty layer sets nothing")
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("model: [not a map"))
	assert.Error(t, err)

	_, err = Parse([]byte("limits:\n  max_wall_clock: fast\n"))
	assert.Error(t, err, "bad duration string")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", s.Model.Model)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
