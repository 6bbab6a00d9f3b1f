// Package scripted is a pure-Go engine backend. It tokenizes with tiktoken and
// generates a continuation chosen by a Responder, which makes pipelines
// runnable without model weights (dry runs, tests, CI).
package scripted

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
	"Pivot/internal/prompt"
)

func init() {
	// Use the embedded BPE ranks to avoid network requests
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())

	engine.Register("scripted", func(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*engine.Engine, error) {
		respond, err := ResponderByName(cfg.Scripted.Responder)
		if err != nil {
			return nil, err
		}
		eng, err := New(cfg.Scripted.Encoding, WithResponder(respond))
		if err != nil {
			return nil, err
		}
		logger.Debug("scripted engine ready",
			zap.String("encoding", cfg.Scripted.Encoding),
			zap.String("responder", cfg.Scripted.Responder))
		return eng, nil
	})
}

// Responder maps an assembled prompt to the continuation the model will "generate".
type Responder func(prompt string) string

// Echo answers with the text of the last user turn. When that turn carries an
// instruction, only the text after the final separator is echoed, so a
// translation prompt echoes its source text. The end marker is appended.
func Echo(tags prompt.Tags) Responder {
	return func(p string) string {
		user := tags.LastUserSegment(p)
		if i := strings.LastIndex(user, prompt.Separator); i >= 0 {
			user = user[i+len(prompt.Separator):]
		}
		return user + tags.End
	}
}

// Literal always answers with text.
func Literal(text string) Responder {
	return func(string) string { return text }
}

// ResponderByName resolves the configured responder. Supported values are
// "echo" (default) and "literal:<text>".
func ResponderByName(name string) (Responder, error) {
	switch {
	case name == "" || name == "echo":
		return Echo(prompt.Phi3), nil
	case strings.HasPrefix(name, "literal:"):
		return Literal(strings.TrimPrefix(name, "literal:")), nil
	default:
		return nil, fmt.Errorf("scripted: unknown responder %q", name)
	}
}

// Tokenizer wraps a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads a tiktoken encoding, cl100k_base by default.
func NewTokenizer(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %q: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode tokenizes text. Chat markers are not special tokens in the tiktoken
// vocabularies and are encoded as ordinary text.
func (t *Tokenizer) Encode(_ context.Context, text string) (engine.TokenSequence, error) {
	raw := t.enc.Encode(text, nil, nil)
	ids := make([]engine.Token, len(raw))
	for i, id := range raw {
		ids[i] = engine.Token(id)
	}
	return engine.TokenSequence{Text: text, IDs: ids}, nil
}

// NewStream returns a UTF-8 reassembling decoder.
func (t *Tokenizer) NewStream() engine.StreamDecoder {
	return engine.NewByteStream(t.piece)
}

func (t *Tokenizer) piece(tok engine.Token) ([]byte, error) {
	if tok < 0 {
		return nil, fmt.Errorf("scripted: invalid token %d", tok)
	}
	return []byte(t.enc.Decode([]int{int(tok)})), nil
}

// Model produces the responder's continuation token by token.
type Model struct {
	tok       *Tokenizer
	respond   Responder
	failAfter int
	failErr   error
}

// Option configures a Model.
type Option func(*Model)

// WithResponder sets the continuation source.
func WithResponder(r Responder) Option {
	return func(m *Model) { m.respond = r }
}

// FailAfter makes every generator fail with err once it has produced n tokens.
func FailAfter(n int, err error) Option {
	return func(m *Model) {
		m.failAfter = n
		m.failErr = err
	}
}

// New builds a scripted engine over the given tiktoken encoding.
func New(encoding string, opts ...Option) (*engine.Engine, error) {
	tok, err := NewTokenizer(encoding)
	if err != nil {
		return nil, err
	}
	m := &Model{tok: tok, respond: Echo(prompt.Phi3), failAfter: -1}
	for _, opt := range opts {
		opt(m)
	}
	return &engine.Engine{Name: "scripted", Model: m, Tokenizer: tok}, nil
}

// NewGenerator encodes the continuation for req's prompt.
func (m *Model) NewGenerator(ctx context.Context, req engine.GenerationRequest) (engine.Generator, error) {
	cont, err := m.tok.Encode(ctx, m.respond(req.Prompt.Text))
	if err != nil {
		return nil, err
	}
	return &generator{
		seq:       append([]engine.Token(nil), req.Prompt.IDs...),
		script:    cont.IDs,
		max:       req.MaxLength,
		failAfter: m.failAfter,
		failErr:   m.failErr,
	}, nil
}

// Close is a no-op.
func (m *Model) Close() error { return nil }

type generator struct {
	seq       []engine.Token
	script    []engine.Token
	pos       int
	max       int
	failAfter int
	failErr   error
	computed  bool
	closed    bool
}

func (g *generator) IsDone() bool {
	return g.closed || g.pos >= len(g.script) || (g.max > 0 && len(g.seq) >= g.max)
}

func (g *generator) ComputeNext(ctx context.Context) error {
	if g.closed {
		return engine.ErrGeneratorClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.failAfter >= 0 && g.pos >= g.failAfter {
		return g.failErr
	}
	g.computed = true
	return nil
}

func (g *generator) SampleNext() (engine.Token, error) {
	if g.closed {
		return 0, engine.ErrGeneratorClosed
	}
	if !g.computed || g.pos >= len(g.script) {
		return 0, fmt.Errorf("scripted: nothing to sample at position %d", g.pos)
	}
	tok := g.script[g.pos]
	g.pos++
	g.seq = append(g.seq, tok)
	g.computed = false
	return tok, nil
}

func (g *generator) Sequence(int) []engine.Token { return g.seq }

func (g *generator) Close() error {
	g.closed = true
	return nil
}
