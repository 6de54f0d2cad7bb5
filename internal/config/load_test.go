package config

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesExpandsEnvRefs(t *testing.T) {
	t.Setenv("TEST_API_KEY_NAME", "ANTHROPIC_API_KEY")

	tree, err := LoadBytes([]byte(`
llm_config:
  providers:
    anthropic:
      api_key_env: ${TEST_API_KEY_NAME}
      api_base: https://api.anthropic.com
`))
	require.NoError(t, err)
	assert.Equal(t, "ANTHROPIC_API_KEY", tree.GetString("llm_config.providers.anthropic.api_key_env", ""))
}

func TestLoadBytesLeavesUnsetRefs(t *testing.T) {
	tree, err := LoadBytes([]byte(`value: ${DEFINITELY_NOT_SET_ANYWHERE_42}`))
	require.NoError(t, err)
	assert.Equal(t, "${DEFINITELY_NOT_SET_ANYWHERE_42}", tree.GetString("value", ""))
}

func TestYAMLRoundTrip(t *testing.T) {
	src := []byte(`
orchestration:
  entry_team: discovery
  max_teams: 10
llm_config:
  default_provider: anthropic
  agents:
    coder:
      temperature: 0
      tartxt_config:
        exclusions: ["**/__pycache__/**", "**/.git/**"]
`)
	first, err := LoadBytes(src)
	require.NoError(t, err)

	dumped, err := Dump(first)
	require.NoError(t, err)

	second, err := LoadBytes(dumped)
	require.NoError(t, err)

	assert.True(t, reflect.DeepEqual(map[string]any(first), map[string]any(second)),
		"round-tripped tree must be semantically identical")
}

func TestLoadBytesEmptyDocument(t *testing.T) {
	tree, err := LoadBytes([]byte("\n"))
	require.NoError(t, err)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}
