package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestTalkLoggerWritesProcessingLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "talk_a")

	logger, closeFn, err := TalkLogger(dir, map[string]string{"talk": "a"})
	require.NoError(t, err)
	logger.Info().Msg("hello from the pipeline")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "processing.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the pipeline")
	assert.Contains(t, string(data), `"talk":"a"`)
}
