package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmathur/briefly/pkg/models"
)

func TestParseModelJSON_Direct(t *testing.T) {
	var findings []models.Finding
	err := parseModelJSON(`[{"type":"Bias","quote":"x","explanation":"y"}]`, &findings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Bias", findings[0].Type)
}

func TestParseModelJSON_FencedBlock(t *testing.T) {
	var findings []models.Finding
	text := "```json\n[{\"type\":\"Bias\",\"quote\":\"x\",\"explanation\":\"y\"}]\n```"
	err := parseModelJSON(text, &findings)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Bias", findings[0].Type)
	assert.Equal(t, "x", findings[0].Quote)
	assert.Equal(t, "y", findings[0].Explanation)
}

func TestParseModelJSON_FencedBlockWithPreamble(t *testing.T) {
	var out map[string]any
	text := "Here is the analysis you asked for:\n```json\n{\"a\": 1}\n```\nLet me know if you need more."
	err := parseModelJSON(text, &out)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["a"])
}

func TestParseModelJSON_NotJSON(t *testing.T) {
	var out map[string]any
	err := parseModelJSON("not json at all", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparsableModelOutput))
}

func TestParseModelJSON_FencedBlockInvalid(t *testing.T) {
	var out map[string]any
	err := parseModelJSON("```json\n{broken\n```", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparsableModelOutput))
}

func TestParseFindings_WrappedObject(t *testing.T) {
	findings, err := parseFindings(`{"findings":[{"type":"Weak Argument","quote":"q","explanation":"e"}]}`)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Weak Argument", findings[0].Type)
}

func TestParseFindings_EmptyArray(t *testing.T) {
	findings, err := parseFindings(`[]`)
	require.NoError(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}
