package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinitionYAML(t *testing.T) {
	path := writeFile(t, "wf.yaml", `
id: wf-demo
nodes:
  - id: greet
    config:
      service: core
      action: log
      message: hello
connections: []
`)

	def, err := loadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-demo", def.ID)
	require.Len(t, def.Nodes, 1)
	assert.Equal(t, "greet", def.Nodes[0].ID)
	assert.Equal(t, "core", def.Nodes[0].Config["service"])
}

func TestLoadDefinitionJSON(t *testing.T) {
	path := writeFile(t, "wf.json", `{
  "id": "wf-json",
  "nodes": [{"id": "a", "config": {"service": "core", "action": "echo"}}],
  "connections": [{"source": "a", "target": "a"}]
}`)

	def, err := loadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-json", def.ID)
	require.Len(t, def.Connections, 1)
	assert.Equal(t, "a", def.Connections[0].Source)
}

func TestLoadDefinitionMissingFile(t *testing.T) {
	_, err := loadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInputInlineWins(t *testing.T) {
	path := writeFile(t, "input.json", `{"from": "file"}`)

	input, err := loadInput(`{"from": "inline"}`, path)
	require.NoError(t, err)
	assert.Equal(t, "inline", input["from"])
}

func TestLoadInputFromFile(t *testing.T) {
	path := writeFile(t, "input.json", `{"count": 3}`)

	input, err := loadInput("", path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, input["count"])
}

func TestLoadInputNone(t *testing.T) {
	input, err := loadInput("", "")
	require.NoError(t, err)
	assert.Nil(t, input)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SKEIN_LOG_LEVEL", "debug")
	t.Setenv("SKEIN_MAX_CONCURRENT_STEPS", "9")
	t.Setenv("SKEIN_FAILURE_POLICY", "continue")

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9, cfg.MaxConcurrentSteps)
	assert.Equal(t, "continue", cfg.FailurePolicy)
	assert.Equal(t, "cel", cfg.ConditionLanguage)
}
