// Package pipeline runs interactive turns: translate the prompts into the
// pivot language, answer, and translate the answer back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
	"Pivot/internal/generation"
	"Pivot/internal/prompt"
	"Pivot/internal/rag"
	"Pivot/internal/transcript"
	"Pivot/internal/translate"
	"Pivot/internal/vectordb"
)

// Stage names, in the order a turn runs them.
const (
	StageSystem  = "translate_system"
	StageUser    = "translate_user"
	StagePrimary = "primary"
	StageAnswer  = "translate_answer"
)

// ErrEmptyTurn is returned when a turn has neither a system nor a user prompt.
var ErrEmptyTurn = errors.New("pipeline: turn has no prompt text")

// ErrNoIndex is returned by Search when no corpus was loaded.
var ErrNoIndex = errors.New("pipeline: no corpus index loaded")

// ErrNoTranscript is returned by History when transcript.enabled is off.
var ErrNoTranscript = errors.New("pipeline: transcript is disabled")

// TurnInput is one interactive turn. Nil toggles use the configured values.
type TurnInput struct {
	System    string
	User      string
	Translate *bool
	UseRAG    *bool
}

// TurnResult holds every stage of a completed turn.
type TurnResult struct {
	ID       string             `json:"id"`
	Stages   []translate.Result `json:"stages"`
	Final    string             `json:"final"`
	Degraded bool               `json:"degraded"`
	Elapsed  time.Duration      `json:"elapsed_ns"`
}

// Stage returns the result of the named stage, if it ran.
func (r TurnResult) Stage(name string) (translate.Result, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return translate.Result{}, false
}

// Observer receives progress while a turn runs. Methods are called from the
// goroutine running the turn.
type Observer interface {
	StageStarted(stage string)
	Fragment(stage, text string)
	StageFinished(stage string, res translate.Result)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnStart    func(stage string)
	OnFragment func(stage, text string)
	OnFinish   func(stage string, res translate.Result)
}

func (o ObserverFuncs) StageStarted(stage string) {
	if o.OnStart != nil {
		o.OnStart(stage)
	}
}

func (o ObserverFuncs) Fragment(stage, text string) {
	if o.OnFragment != nil {
		o.OnFragment(stage, text)
	}
}

func (o ObserverFuncs) StageFinished(stage string, res translate.Result) {
	if o.OnFinish != nil {
		o.OnFinish(stage, res)
	}
}

// LoadStats reports what New loaded.
type LoadStats struct {
	Backend     string
	Corpus      rag.LoadStats
	IndexLoaded bool
	ModelLoad   time.Duration
}

// Pipeline owns the loaded engine and corpus index. Generation is serialised:
// one model instance runs one session at a time.
type Pipeline struct {
	cfg    config.Config
	logger *zap.Logger

	eng        *engine.Engine
	ownsEngine bool
	corpus     *Corpus
	augmenter  *rag.Augmenter
	transcript *transcript.Store

	withRAG    *translate.Translator
	withoutRAG *translate.Translator

	mu    sync.Mutex
	stats LoadStats
}

type settings struct {
	eng         *engine.Engine
	throttle    generation.Throttle
	forceCorpus bool
}

// Option configures New.
type Option func(*settings)

// WithEngine uses an already loaded engine instead of engine.Load. The
// pipeline does not close it.
func WithEngine(eng *engine.Engine) Option {
	return func(s *settings) { s.eng = eng }
}

// WithThrottle overrides generation.step_delay.
func WithThrottle(t generation.Throttle) Option {
	return func(s *settings) { s.throttle = t }
}

// WithCorpus loads the corpus even when translation.use_rag is off, so that
// Search works.
func WithCorpus() Option {
	return func(s *settings) { s.forceCorpus = true }
}

// New validates the configuration, indexes the corpus and loads the model.
// Every failure here is fatal; nothing has been generated yet.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	keys := cfg.RequiredKeys(false)
	if s.forceCorpus {
		keys = append(keys, "rag.corpus_path")
	}
	if err := cfg.Require(keys...); err != nil {
		return nil, err
	}

	builder, err := prompt.NewBuilderFromConfig(cfg.Translation)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	throttle := s.throttle
	if throttle == nil {
		delay, err := cfg.StepDelay()
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		throttle = generation.Fixed(delay)
	}

	p := &Pipeline{cfg: cfg, logger: logger}

	if (cfg.Translation.Enabled && cfg.Translation.UseRAG) || s.forceCorpus {
		if err := p.loadCorpus(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}

	loadStart := time.Now()
	if s.eng != nil {
		p.eng = s.eng
	} else {
		eng, err := engine.Load(ctx, cfg.Engine, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.eng = eng
		p.ownsEngine = true
	}
	p.stats.Backend = p.eng.Name
	p.stats.ModelLoad = time.Since(loadStart)

	if cfg.Transcript.Enabled {
		store, err := transcript.Open(cfg.Transcript.Path)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.transcript = store
	}

	markers := cfg.Generation.StopMarkers
	if len(markers) == 0 {
		markers = generation.DefaultStopMarkers
	}
	base := []translate.Option{
		translate.WithLogger(logger),
		translate.WithRequest(requestFromConfig(cfg.Generation)),
		translate.WithSessionOptions(generation.WithThrottle(throttle), generation.WithStopMarkers(markers)),
	}
	p.withoutRAG = translate.New(p.eng, builder, base...)
	if p.augmenter != nil {
		p.withRAG = translate.New(p.eng, builder, append(base, translate.WithAugmenter(p.augmenter))...)
	} else {
		p.withRAG = p.withoutRAG
	}

	logger.Info("pipeline ready",
		zap.String("backend", p.stats.Backend),
		zap.Duration("model_load", p.stats.ModelLoad),
		zap.Bool("translation", cfg.Translation.Enabled),
		zap.Bool("rag", p.augmenter != nil))
	return p, nil
}

func (p *Pipeline) loadCorpus(ctx context.Context) error {
	c, err := LoadCorpus(ctx, p.cfg, p.logger)
	if err != nil {
		return err
	}
	p.corpus = c
	p.stats.Corpus = c.Stats
	p.stats.IndexLoaded = true
	p.augmenter = c.Augmenter
	return nil
}

func requestFromConfig(g config.GenerationConfig) engine.GenerationRequest {
	return engine.GenerationRequest{
		MinLength: g.MinLength,
		MaxLength: g.MaxLength,
		Sampling:  engine.Sampling{Temperature: g.Temperature, TopK: g.TopK, TopP: g.TopP},
		BatchHint: g.BatchHint,
	}
}

// Turn runs the stages of one turn strictly in order. Stage faults degrade
// the result but never fail the turn; only an empty prompt pair is an error.
func (p *Pipeline) Turn(ctx context.Context, in TurnInput, obs Observer) (TurnResult, error) {
	if strings.TrimSpace(in.System) == "" && strings.TrimSpace(in.User) == "" {
		return TurnResult{}, ErrEmptyTurn
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	res := TurnResult{ID: uuid.NewString()}
	doTranslate := p.cfg.Translation.Enabled
	if in.Translate != nil {
		doTranslate = *in.Translate
	}
	tr := p.translator(in.UseRAG)

	run := func(stage string, fn func(translate.Sink) translate.Result) translate.Result {
		obs.StageStarted(stage)
		r := fn(func(frag string) { obs.Fragment(stage, frag) })
		obs.StageFinished(stage, r)
		res.Stages = append(res.Stages, r)
		res.Degraded = res.Degraded || r.Degraded
		return r
	}

	seg := prompt.Segments{System: in.System, User: in.User}
	if doTranslate {
		seg.System = run(StageSystem, func(sink translate.Sink) translate.Result {
			return tr.TranslateAs(ctx, StageSystem, in.System, prompt.AtoB, sink)
		}).Text
		seg.User = run(StageUser, func(sink translate.Sink) translate.Result {
			return tr.TranslateAs(ctx, StageUser, in.User, prompt.AtoB, sink)
		}).Text
	}

	primary := run(StagePrimary, func(sink translate.Sink) translate.Result {
		return tr.Answer(ctx, StagePrimary, seg, sink)
	})
	res.Final = primary.Text

	if doTranslate {
		res.Final = run(StageAnswer, func(sink translate.Sink) translate.Result {
			return tr.TranslateAs(ctx, StageAnswer, primary.Text, prompt.BtoA, sink)
		}).Text
	}
	res.Elapsed = time.Since(start)

	p.logger.Info("turn finished",
		zap.String("turn_id", res.ID),
		zap.Int("stages", len(res.Stages)),
		zap.Bool("degraded", res.Degraded),
		zap.Duration("elapsed", res.Elapsed))
	p.record(ctx, in, res)
	return res, nil
}

// Translate runs a single translation outside a turn.
func (p *Pipeline) Translate(ctx context.Context, text string, dir prompt.Direction, useRAG *bool, sink translate.Sink) translate.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.translator(useRAG).Translate(ctx, text, dir, sink)
}

// Search queries the corpus index directly.
func (p *Pipeline) Search(ctx context.Context, query string, pageCount int, threshold float64) ([]vectordb.Result, error) {
	if p.corpus == nil {
		return nil, ErrNoIndex
	}
	return p.corpus.Index.Search(ctx, query, pageCount, threshold)
}

// Stats reports what was loaded.
func (p *Pipeline) Stats() LoadStats { return p.stats }

// IndexSize is the number of indexed chunks.
func (p *Pipeline) IndexSize() int {
	if p.corpus == nil {
		return 0
	}
	return p.corpus.Index.Len()
}

// History returns up to limit recorded turns, newest first.
func (p *Pipeline) History(ctx context.Context, limit int) ([]transcript.TurnRecord, error) {
	if p.transcript == nil {
		return nil, ErrNoTranscript
	}
	return p.transcript.Recent(ctx, limit)
}

func (p *Pipeline) translator(useRAG *bool) *translate.Translator {
	enabled := p.cfg.Translation.UseRAG
	if useRAG != nil {
		enabled = *useRAG
	}
	if enabled {
		return p.withRAG
	}
	return p.withoutRAG
}

func (p *Pipeline) record(ctx context.Context, in TurnInput, res TurnResult) {
	if p.transcript == nil {
		return
	}
	rec := transcript.TurnRecord{ID: res.ID, CreatedAt: time.Now(), Final: res.Final, Degraded: res.Degraded}
	inputs := map[string]string{StageSystem: in.System, StageUser: in.User}
	prev := ""
	for _, st := range res.Stages {
		input, ok := inputs[st.Stage]
		if !ok {
			input = prev
		}
		if st.Stage == StagePrimary {
			input = st.Prompt
		}
		if st.Glossary != "" {
			rec.Glossary = st.Glossary
		}
		rec.Stages = append(rec.Stages, transcript.StageRecord{
			Stage:           st.Stage,
			Input:           input,
			Output:          st.Text,
			Kind:            st.Kind.String(),
			PromptTokens:    st.Stats.PromptTokens,
			GeneratedTokens: st.Stats.GeneratedTokens,
			Elapsed:         st.Stats.Elapsed,
		})
		prev = st.Text
	}
	if err := p.transcript.Record(ctx, rec); err != nil {
		p.logger.Warn("failed to record turn", zap.String("turn_id", res.ID), zap.Error(err))
	}
}

// Close releases the engine, index and stores.
func (p *Pipeline) Close() error {
	var errs []error
	if p.ownsEngine && p.eng != nil {
		errs = append(errs, p.eng.Close())
	}
	if p.corpus != nil {
		errs = append(errs, p.corpus.Close())
	}
	if p.transcript != nil {
		errs = append(errs, p.transcript.Close())
	}
	return errors.Join(errs...)
}
