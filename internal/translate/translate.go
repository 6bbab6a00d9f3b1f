// Package translate runs single translation and answer generations on a
// loaded engine.
package translate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"Pivot/internal/engine"
	"Pivot/internal/generation"
	"Pivot/internal/prompt"
	"Pivot/internal/vectordb"
)

// Sink receives fragments as they are generated. It may be nil.
type Sink func(fragment string)

// Augmenter supplies reference passages for a query.
type Augmenter interface {
	AugmentPassages(ctx context.Context, query string) (string, []vectordb.Result)
}

// Result is the outcome of one invocation. A faulted generation still returns
// whatever text was produced before the fault, with Degraded set.
type Result struct {
	Stage    string            `json:"stage"`
	Text     string            `json:"text"`
	Prompt   string            `json:"prompt"`
	Glossary string            `json:"glossary,omitempty"`
	Passages []vectordb.Result `json:"passages,omitempty"`
	Stats    generation.Stats  `json:"stats"`
	Kind     generation.Kind   `json:"kind"`
	Degraded bool              `json:"degraded"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
	Skipped  bool              `json:"skipped,omitempty"`
}

type state int

const (
	buildingPrompt state = iota
	generating
	done
)

func (s state) String() string {
	switch s {
	case buildingPrompt:
		return "building_prompt"
	case generating:
		return "generating"
	default:
		return "done"
	}
}

// Translator assembles prompts with a Builder and streams them through a
// generation session. It holds only read-only handles and can be shared by
// sequential calls.
type Translator struct {
	eng       *engine.Engine
	builder   *prompt.Builder
	augmenter Augmenter
	request   engine.GenerationRequest
	session   []generation.Option
	logger    *zap.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithAugmenter enables glossary lookup for directions whose template uses it.
func WithAugmenter(a Augmenter) Option {
	return func(t *Translator) { t.augmenter = a }
}

// WithRequest sets the length and sampling defaults of every generation.
// The prompt field is ignored.
func WithRequest(req engine.GenerationRequest) Option {
	return func(t *Translator) { t.request = req }
}

// WithSessionOptions passes options through to every generation session.
func WithSessionOptions(opts ...generation.Option) Option {
	return func(t *Translator) { t.session = append(t.session, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// New returns a Translator over eng.
func New(eng *engine.Engine, builder *prompt.Builder, opts ...Option) *Translator {
	t := &Translator{
		eng:     eng,
		builder: builder,
		request: engine.GenerationRequest{MinLength: 100, MaxLength: 2000, Sampling: engine.Sampling{TopP: 0.9}, BatchHint: 1},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Builder returns the prompt builder.
func (t *Translator) Builder() *prompt.Builder { return t.builder }

// Translate translates text in direction dir, streaming fragments to sink.
func (t *Translator) Translate(ctx context.Context, text string, dir prompt.Direction, sink Sink) Result {
	return t.TranslateAs(ctx, dir.String(), text, dir, sink)
}

// TranslateAs is Translate with an explicit stage name for logs and metrics.
func (t *Translator) TranslateAs(ctx context.Context, stage, text string, dir prompt.Direction, sink Sink) Result {
	res := Result{Stage: stage, Kind: generation.Done}
	if strings.TrimSpace(text) == "" {
		res.Skipped = true
		return res
	}

	t.trace(stage, buildingPrompt)
	tpl := t.builder.Template(dir)
	if tpl.UsesAugmentation && t.augmenter != nil {
		res.Glossary, res.Passages = t.augmenter.AugmentPassages(ctx, text)
	}
	res.Prompt = t.builder.Build(dir, t.builder.Segments(dir, text), res.Glossary)

	return t.generate(ctx, res, sink)
}

// Answer generates the primary response to seg. The instruction is ignored.
func (t *Translator) Answer(ctx context.Context, stage string, seg prompt.Segments, sink Sink) Result {
	res := Result{Stage: stage, Kind: generation.Done}
	t.trace(stage, buildingPrompt)
	res.Prompt = t.builder.BuildPrimary(seg)
	return t.generate(ctx, res, sink)
}

func (t *Translator) generate(ctx context.Context, res Result, sink Sink) Result {
	t.trace(res.Stage, generating)
	defer t.trace(res.Stage, done)

	seq, err := t.eng.Tokenizer.Encode(ctx, res.Prompt)
	if err != nil {
		return t.degrade(res, err)
	}

	req := t.request
	req.Prompt = seq
	opts := append([]generation.Option{generation.WithLogger(t.logger), generation.WithLabel(res.Stage)}, t.session...)
	sess, err := generation.New(ctx, t.eng, req, opts...)
	if err != nil {
		return t.degrade(res, err)
	}

	drained := sess.Drain(ctx, sink)
	res.Text = drained.Text
	res.Stats = drained.Stats
	res.Kind = drained.Kind
	if drained.Kind == generation.Faulted {
		res.Degraded = true
		res.Err = drained.Err
		if drained.Err != nil {
			res.Error = drained.Err.Error()
		}
	}
	return res
}

// degrade reports a failure before any text was generated. It is treated like
// a session fault: the turn continues with an empty result.
func (t *Translator) degrade(res Result, err error) Result {
	t.logger.Warn("generation could not start", zap.String("stage", res.Stage), zap.Error(err))
	res.Kind = generation.Faulted
	res.Degraded = true
	res.Err = err
	res.Error = err.Error()
	return res
}

func (t *Translator) trace(stage string, s state) {
	t.logger.Debug("stage state", zap.String("stage", stage), zap.Stringer("state", s))
}
