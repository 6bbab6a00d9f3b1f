package engine

import (
	"context"
	"errors"
)

// Token is a model vocabulary id.
type Token = int32

// TokenSequence is an encoded prompt. Text is kept alongside the ids because
// the text-level backends submit the prompt as text.
type TokenSequence struct {
	Text string
	IDs  []Token
}

// Len returns the number of tokens in the sequence.
func (s TokenSequence) Len() int { return len(s.IDs) }

// Sampling maps to the common sampling controls for SLMs.
type Sampling struct {
	Temperature float64
	TopK        int
	TopP        float64
}

// GenerationRequest captures an encoded prompt plus its generation bounds.
// MaxLength bounds the whole sequence (prompt plus generated tokens).
type GenerationRequest struct {
	Prompt    TokenSequence
	MinLength int
	MaxLength int
	Sampling  Sampling
	BatchHint int
}

// Tokenizer converts text to tokens and hands out incremental decoders.
type Tokenizer interface {
	Encode(ctx context.Context, text string) (TokenSequence, error)
	NewStream() StreamDecoder
}

// StreamDecoder turns one sampled token into the text it completes. It may
// return "" while a multi-byte character is still incomplete.
type StreamDecoder interface {
	Decode(tok Token) (string, error)
}

// Flusher is implemented by decoders that hold bytes between tokens. Flush
// returns what is still pending once generation ends, with an incomplete
// character replaced by U+FFFD.
type Flusher interface {
	Flush() string
}

// Model creates generators. A Model is shared read-only between sessions.
type Model interface {
	NewGenerator(ctx context.Context, req GenerationRequest) (Generator, error)
	Close() error
}

// Generator is the per-session step interface. Calls are made from a single
// goroutine in the order ComputeNext, SampleNext.
type Generator interface {
	IsDone() bool
	ComputeNext(ctx context.Context) error
	SampleNext() (Token, error)
	Sequence(batch int) []Token
	Close() error
}

// Engine bundles the loaded model with its tokenizer.
type Engine struct {
	Name      string
	Model     Model
	Tokenizer Tokenizer
}

// Close frees model resources.
func (e *Engine) Close() error {
	if e == nil || e.Model == nil {
		return nil
	}
	return e.Model.Close()
}

// ErrGeneratorClosed is returned by generators used after Close.
var ErrGeneratorClosed = errors.New("engine: generator closed")
