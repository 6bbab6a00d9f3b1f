package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
	"Pivot/internal/generation"
)

// fakeLlamaServer mimics the llama.cpp server endpoints the backend uses.
type fakeLlamaServer struct {
	pieces      []string
	healthCode  int
	failStream  bool
	lastRequest atomic.Pointer[CompletionRequest]
}

func (f *fakeLlamaServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		code := f.healthCode
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		} else {
			_, _ = w.Write([]byte(`{"error":{"message":"Loading model"}}`))
		}
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req tokenizeRequest
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields := strings.Fields(req.Content)
		ids := make([]int32, len(fields))
		for i := range fields {
			ids[i] = int32(1000 + i)
		}
		out, _ := sonic.Marshal(tokenizeResponse{Tokens: ids})
		_, _ = w.Write(out)
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req CompletionRequest
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastRequest.Store(&req)
		if f.failStream {
			http.Error(w, "out of memory", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, p := range f.pieces {
			ev, _ := sonic.Marshal(StreamToken{Content: p})
			_, err := fmt.Fprintf(w, "data: %s\n\n", ev)
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		ev, _ := sonic.Marshal(StreamToken{Stop: true, StopType: "eos"})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", ev)
	})
	return mux
}

func loadHTTPEngine(t *testing.T, srv *httptest.Server) (*engine.Engine, error) {
	t.Helper()
	return engine.Load(context.Background(), config.EngineConfig{
		Backend: "http",
		HTTP:    config.HTTPEngineConfig{BaseURL: srv.URL + "/", Timeout: "5s"},
	}, zap.NewNop())
}

func TestHTTPBackendStreamsIntoSession(t *testing.T) {
	fake := &fakeLlamaServer{pieces: []string{"Cloud", " is", " the", " hero", ".<|", "end|>", " trailing"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	eng, err := loadHTTPEngine(t, srv)
	require.NoError(t, err)
	assert.Equal(t, "http", eng.Name)

	ctx := context.Background()
	seq, err := eng.Tokenizer.Encode(ctx, "<|user|>who is Cloud<|end|><|assistant|>")
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())

	req := engine.GenerationRequest{
		Prompt:    seq,
		MaxLength: 50,
		Sampling:  engine.Sampling{Temperature: 0.2, TopK: 40, TopP: 0.9},
	}
	s, err := generation.New(ctx, eng, req)
	require.NoError(t, err)

	res := s.Drain(ctx, nil)
	assert.Equal(t, generation.Done, res.Kind)
	assert.Equal(t, "Cloud is the hero.", res.Text)
	assert.Equal(t, "<|end|>", res.Stats.StopMarker)

	sent := fake.lastRequest.Load()
	require.NotNil(t, sent)
	assert.Equal(t, seq.Text, sent.Prompt)
	assert.Equal(t, 47, sent.NPredict)
	assert.True(t, sent.Stream)
	assert.Equal(t, 40, sent.TopK)
}

func TestHTTPBackendNaturalEnd(t *testing.T) {
	fake := &fakeLlamaServer{pieces: []string{"こん", "にちは"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	eng, err := loadHTTPEngine(t, srv)
	require.NoError(t, err)

	ctx := context.Background()
	seq, err := eng.Tokenizer.Encode(ctx, "hello")
	require.NoError(t, err)
	s, err := generation.New(ctx, eng, engine.GenerationRequest{Prompt: seq, MaxLength: 100})
	require.NoError(t, err)

	res := s.Drain(ctx, nil)
	assert.Equal(t, generation.Done, res.Kind)
	assert.Equal(t, "こんにちは", res.Text)
	assert.Equal(t, 2, res.Stats.GeneratedTokens)
}

func TestHTTPBackendStreamFailureFaultsSession(t *testing.T) {
	fake := &fakeLlamaServer{failStream: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	eng, err := loadHTTPEngine(t, srv)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := generation.New(ctx, eng, engine.GenerationRequest{Prompt: engine.TokenSequence{Text: "x"}, MaxLength: 10})
	require.NoError(t, err)

	res := s.Drain(ctx, nil)
	assert.Equal(t, generation.Faulted, res.Kind)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "500")
}

func TestHTTPBackendLoadFailsWhileModelLoading(t *testing.T) {
	fake := &fakeLlamaServer{healthCode: http.StatusServiceUnavailable}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	_, err := loadHTTPEngine(t, srv)
	var loadErr *engine.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "http", loadErr.Backend)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPBackendRejectsBadTimeout(t *testing.T) {
	_, err := engine.Load(context.Background(), config.EngineConfig{
		Backend: "http",
		HTTP:    config.HTTPEngineConfig{BaseURL: "http://127.0.0.1:1", Timeout: "soon"},
	}, nil)
	assert.Error(t, err)
}

func TestPredictBudget(t *testing.T) {
	prompt := engine.TokenSequence{IDs: make([]engine.Token, 10)}
	assert.Equal(t, -1, predictBudget(engine.GenerationRequest{Prompt: prompt}))
	assert.Equal(t, 90, predictBudget(engine.GenerationRequest{Prompt: prompt, MaxLength: 100}))
	assert.Equal(t, 1, predictBudget(engine.GenerationRequest{Prompt: prompt, MaxLength: 5}))
}
