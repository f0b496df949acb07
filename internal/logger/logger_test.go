package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetSilentMode(true) })

	log := GetLogger("mq.broker")
	log.Info().Str("job_id", "J1").Msg("Job queued")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mq.broker", entry["component"])
	assert.Equal(t, "J1", entry["job_id"])
	assert.Equal(t, "Job queued", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestSetLevelFiltersEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetSilentMode(true) })

	SetLevel(LOG_WARN)
	log := New()
	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	SetLevel("bogus")
	buf.Reset()
	log.Info().Msg("back to info")
	assert.Contains(t, buf.String(), "back to info")
}
