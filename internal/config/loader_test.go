package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsEmptyFleet(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
	assert.Empty(t, cfg.Groups)
}

func TestLoad_ParsesProvidersAndGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetmcp.yaml")
	content := `
providers:
  math:
    mode: subprocess
    command: ["python3", "mock_math.py"]
    idle_ttl_s: 30
  remote-search:
    mode: remote
    endpoint: https://example.internal/mcp
groups:
  math-pool:
    strategy: round_robin
    min_healthy: 1
    members:
      - provider_id: math
        weight: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Providers, "math")
	assert.Equal(t, "subprocess", cfg.Providers["math"].Mode)
	assert.Equal(t, []string{"python3", "mock_math.py"}, cfg.Providers["math"].Command)
	assert.Equal(t, 30, cfg.Providers["math"].IdleTTLSeconds)

	require.Contains(t, cfg.Groups, "math-pool")
	assert.Equal(t, "round_robin", cfg.Groups["math-pool"].Strategy)
	require.Len(t, cfg.Groups["math-pool"].Members, 1)
	assert.Equal(t, 2, cfg.Groups["math-pool"].Members[0].Weight)
}

func TestLoad_MalformedYAMLReturnsParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [this is not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestLoad_ResolvesEnvSecretFromFile(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "token.secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("s3cret\n"), 0600))

	configPath := filepath.Join(dir, "fleetmcp.yaml")
	content := `
providers:
  svc:
    mode: subprocess
    command: ["svc"]
    env:
      API_TOKEN_FILE: ` + secretPath + `
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Providers["svc"].Env["API_TOKEN"])
}

func TestProviderConfig_DurationDefaults(t *testing.T) {
	p := ProviderConfig{}
	assert.Equal(t, DefaultIdleTTLSeconds, int(p.IdleTTL().Seconds()))
	assert.Equal(t, DefaultHealthCheckIntervalSeconds, int(p.HealthCheckInterval().Seconds()))
}

func TestDiffProviders(t *testing.T) {
	previous := FileConfig{Providers: map[string]ProviderConfig{
		"a": {Mode: "subprocess", Command: []string{"a"}},
		"b": {Mode: "subprocess", Command: []string{"b"}},
	}}
	next := FileConfig{Providers: map[string]ProviderConfig{
		"a": {Mode: "subprocess", Command: []string{"a"}},
		"b": {Mode: "subprocess", Command: []string{"b", "--flag"}},
		"c": {Mode: "subprocess", Command: []string{"c"}},
	}}

	d := DiffProviders(previous, next)
	assert.ElementsMatch(t, []string{"c"}, d.Added)
	assert.ElementsMatch(t, []string{"b"}, d.Updated)
	assert.ElementsMatch(t, []string{"a"}, d.Unchanged)
	assert.Empty(t, d.Removed)
}
