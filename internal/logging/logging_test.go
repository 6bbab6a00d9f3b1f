package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pivot/internal/config"
)

func TestNewToFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(config.LoggingConfig{Level: "debug", Encoding: "json", ToFile: true, Dir: dir})
	require.NoError(t, err)

	logger.Debug("hello from test")
	closer()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "pivot-"))

	data, err := os.ReadFile(dir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), "session ended")
}

func TestNewStderrWithBadLevel(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "loud"})
	require.NoError(t, err)
	defer closer()
	assert.True(t, logger.Core().Enabled(0))
	assert.False(t, logger.Core().Enabled(-1))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
