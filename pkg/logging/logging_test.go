package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", FormatJSON, &buf)
	require.NoError(t, err)

	log.Info().Int("chunk", 3).Msg("chunk written")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "chunk written", line["message"])
	assert.EqualValues(t, 3, line["chunk"])
	assert.Contains(t, line, "time")
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", FormatJSON, &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("", "", &buf)
	require.NoError(t, err)
	log.Info().Str("run_id", "abc").Msg("starting")
	assert.Contains(t, buf.String(), "starting")
	assert.Contains(t, buf.String(), "run_id=")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", FormatJSON, &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
