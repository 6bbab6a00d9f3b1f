// Package server exposes a pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/metrics"
	"Pivot/internal/pipeline"
	"Pivot/internal/prompt"
	"Pivot/internal/rag"
	"Pivot/internal/transcript"
	"Pivot/internal/translate"
	"Pivot/internal/vectordb"
)

const (
	maxBodyBytes = 1 << 20

	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Service is the part of the pipeline the server drives.
type Service interface {
	Turn(ctx context.Context, in pipeline.TurnInput, obs pipeline.Observer) (pipeline.TurnResult, error)
	Translate(ctx context.Context, text string, dir prompt.Direction, useRAG *bool, sink translate.Sink) translate.Result
	Search(ctx context.Context, query string, pageCount int, threshold float64) ([]vectordb.Result, error)
	History(ctx context.Context, limit int) ([]transcript.TurnRecord, error)
	IndexSize() int
	Stats() pipeline.LoadStats
}

// HTTPServer serves turns, translations and corpus search.
type HTTPServer struct {
	svc       Service
	cfg       config.ServerConfig
	rag       config.RAGConfig
	logger    *zap.Logger
	adm       *admission
	startTime time.Time
}

// NewHTTPServer validates the server settings.
func NewHTTPServer(svc Service, cfg config.Config, logger *zap.Logger) (*HTTPServer, error) {
	maxWait, err := cfg.ServerMaxWait()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		svc:       svc,
		cfg:       cfg.Server,
		rag:       cfg.RAG,
		logger:    logger,
		adm:       newAdmission(maxWait),
		startTime: time.Now(),
	}, nil
}

// Addr is the configured listen address.
func (s *HTTPServer) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Handler builds the router.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/turn", s.handleTurn)
		r.Post("/translate", s.handleTranslate)
		r.Post("/search", s.handleSearch)
		r.Get("/history", s.handleHistory)
	})
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped", zap.String("addr", srv.Addr))
	return nil
}

// instrument logs and counts every request by its chi route pattern.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RecordHTTP(r.Method, route, strconv.Itoa(status), elapsed)
		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Backend:   s.svc.Stats().Backend,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		IndexSize: s.svc.IndexSize(),
	})
}

func (s *HTTPServer) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.System) == "" && strings.TrimSpace(req.User) == "" {
		writeJSONError(w, http.StatusBadRequest, "system or user prompt is required")
		return
	}

	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	in := pipeline.TurnInput{System: req.System, User: req.User, Translate: req.Translate, UseRAG: req.RAG}
	if !req.Stream {
		res, err := s.svc.Turn(r.Context(), in, nil)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	stream := newEventWriter(w)

	obs := pipeline.ObserverFuncs{
		OnFragment: func(stage, text string) {
			stream.send(TurnEvent{Stage: stage, Token: text})
		},
		OnFinish: func(stage string, res translate.Result) {
			stats := res.Stats
			stream.send(TurnEvent{Stage: stage, Done: true, Kind: res.Kind.String(), Degraded: res.Degraded, Stats: &stats, Error: res.Error})
		},
	}
	res, err := s.svc.Turn(r.Context(), in, obs)
	if err != nil {
		stream.send(TurnEvent{Done: true, Error: err.Error()})
		return
	}
	stream.send(TurnEvent{Done: true, Result: &res})
	if stream.err != nil {
		s.logger.Debug("turn stream aborted", zap.Error(stream.err))
	}
}

func (s *HTTPServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dir, err := prompt.ParseDirection(req.Direction)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	res := s.svc.Translate(r.Context(), req.Text, dir, req.RAG, nil)
	writeJSON(w, http.StatusOK, TranslateResponse{Result: res})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	pageCount := s.rag.PageCount
	if pageCount <= 0 {
		pageCount = rag.DefaultPageCount
	}
	if req.PageCount != nil {
		pageCount = *req.PageCount
	}
	threshold := s.rag.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := s.svc.Search(r.Context(), req.Query, pageCount, threshold)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	if results == nil {
		results = []vectordb.Result{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	turns, err := s.svc.History(r.Context(), limit)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	if turns == nil {
		turns = []transcript.TurnRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Turns: turns})
}

func (s *HTTPServer) admit(w http.ResponseWriter, r *http.Request) (func(), bool) {
	release, err := s.adm.acquire(r.Context())
	if err != nil {
		if errors.Is(err, ErrBusy) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		} else {
			writeJSONError(w, http.StatusServiceUnavailable, "request cancelled while queued")
		}
		return nil, false
	}
	return release, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrEmptyTurn):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoIndex):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoTranscript):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	data, _ := sonic.Marshal(ErrorResponse{Error: msg, Code: status})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// eventWriter writes NDJSON lines and flushes each one. After the first
// write error it drops further events.
type eventWriter struct {
	w     io.Writer
	flush func()
	err   error
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	ew := &eventWriter{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		ew.flush = f.Flush
	}
	return ew
}

func (e *eventWriter) send(ev TurnEvent) {
	if e.err != nil {
		return
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		e.err = err
		return
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		e.err = err
		return
	}
	e.flush()
}
