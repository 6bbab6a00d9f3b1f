package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pivot/internal/config"
	_ "Pivot/internal/engine/scripted"
	"Pivot/internal/pipeline"
	"Pivot/server"
)

func newRemote(t *testing.T, mutate ...func(*config.Config)) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Backend = "scripted"
	for _, m := range mutate {
		m(&cfg)
	}

	p, err := pipeline.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	srv, err := server.NewHTTPServer(p, cfg, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestHealth(t *testing.T) {
	c := newRemote(t)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scripted", h.Backend)
}

func TestTurnStreaming(t *testing.T) {
	c := newRemote(t)

	var tokens string
	var stages []string
	res, err := c.Turn(context.Background(), server.TurnRequest{System: "S", User: "Tifa runs a bar."}, func(ev server.TurnEvent) {
		if ev.Token != "" && ev.Stage == pipeline.StageAnswer {
			tokens += ev.Token
		}
		if ev.Done && ev.Stage != "" {
			stages = append(stages, ev.Stage)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "Tifa runs a bar.", res.Final)
	assert.Equal(t, res.Final, tokens)
	assert.Len(t, stages, 4)
}

func TestTurnBlocking(t *testing.T) {
	c := newRemote(t)
	off := false
	res, err := c.Turn(context.Background(), server.TurnRequest{User: "plain", Translate: &off}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Final)
	assert.Len(t, res.Stages, 1)
}

func TestTranslateAndErrors(t *testing.T) {
	c := newRemote(t)

	res, err := c.Translate(context.Background(), server.TranslateRequest{Text: "Hello.", Direction: "b_to_a"})
	require.NoError(t, err)
	assert.Equal(t, "Hello.", res.Text)

	_, err = c.Search(context.Background(), server.SearchRequest{Query: "anything"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Contains(t, se.Message, "no corpus index")

	_, err = c.Turn(context.Background(), server.TurnRequest{}, nil)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestHistory(t *testing.T) {
	c := newRemote(t, func(cfg *config.Config) {
		cfg.Transcript.Enabled = true
		cfg.Transcript.Path = filepath.Join(t.TempDir(), "turns.db")
	})
	ctx := context.Background()

	res, err := c.Turn(ctx, server.TurnRequest{System: "S", User: "Barret leads AVALANCHE."}, nil)
	require.NoError(t, err)

	turns, err := c.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, res.ID, turns[0].ID)
	assert.Equal(t, "Barret leads AVALANCHE.", turns[0].Final)
	require.Len(t, turns[0].Stages, 4)
	assert.Equal(t, pipeline.StagePrimary, turns[0].Stages[2].Stage)
}

func TestHistoryDisabled(t *testing.T) {
	_, err := newRemote(t).History(context.Background(), 5)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}
