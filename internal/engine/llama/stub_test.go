//go:build !llama

package llama

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pivot/internal/config"
	"Pivot/internal/engine"
)

func TestStubFailsToLoad(t *testing.T) {
	assert.False(t, Built)

	_, err := engine.Load(context.Background(), config.EngineConfig{Backend: "llama", ModelPath: "/models/phi.gguf"}, nil)
	require.Error(t, err)

	var loadErr *engine.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.ErrorIs(t, err, engine.ErrDependencyUnavailable)
}
