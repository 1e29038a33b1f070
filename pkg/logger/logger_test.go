package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestScopedFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.WithComponent("evaluator").
		WithOrganization("org-1").
		WithFramework("SOC2").
		WithFields(map[string]any{"run_id": "r1"}).
		Info().Msg("evaluated")

	line := decodeLine(t, &buf)
	assert.Equal(t, "evaluator", line["component"])
	assert.Equal(t, "org-1", line["org_id"])
	assert.Equal(t, "SOC2", line["framework"])
	assert.Equal(t, "r1", line["run_id"])
	assert.Equal(t, "evaluated", line["message"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "json", Output: &buf}).WithError(errors.New("boom")).Warn().Msg("failed")

	assert.Equal(t, "boom", decodeLine(t, &buf)["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLevel(in))
		})
	}
}

func TestFromConfigPresets(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, FromConfig("production", "", "", "").GetLevel())
	assert.Equal(t, zerolog.DebugLevel, FromConfig("development", "", "", "").GetLevel())
	assert.Equal(t, zerolog.ErrorLevel, FromConfig("production", "error", "json", "").GetLevel())
}

func TestRequestAndRunScopes(t *testing.T) {
	t.Run("request id attached", func(t *testing.T) {
		var buf bytes.Buffer
		New(Config{Format: "json", Output: &buf}).WithService("api").WithRequestID("req-7").WithRun("run-3").Info().Msg("ok")

		line := decodeLine(t, &buf)
		assert.Equal(t, "api", line["service"])
		assert.Equal(t, "req-7", line["request_id"])
		assert.Equal(t, "run-3", line["run_id"])
	})

	t.Run("empty request id omitted", func(t *testing.T) {
		var buf bytes.Buffer
		New(Config{Format: "json", Output: &buf}).WithRequestID("").Info().Msg("ok")

		assert.NotContains(t, decodeLine(t, &buf), "request_id")
	})
}
