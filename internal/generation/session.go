// Package generation drives one model invocation as a pull-based stream of
// decoded text fragments that ends at a stop marker, at the length limit, or
// on the first fault.
package generation

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"Pivot/internal/engine"
	"Pivot/internal/metrics"
)

// Kind classifies the outcome of one pull.
type Kind int

const (
	// Continue carries a fragment; more may follow.
	Continue Kind = iota
	// Done means the session has ended and holds no further text.
	Done
	// Faulted means a step failed. It is returned once; later pulls return Done.
	Faulted
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Done:
		return "done"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "continue":
		*k = Continue
	case "done":
		*k = Done
	case "faulted":
		*k = Faulted
	default:
		return fmt.Errorf("generation: unknown kind %q", b)
	}
	return nil
}

// StepResult is the outcome of one pull.
type StepResult struct {
	Kind     Kind
	Fragment string
	Err      error
}

// Stats describe a session. They are final once the session has ended.
type Stats struct {
	PromptTokens    int           `json:"prompt_tokens"`
	SequenceLength  int           `json:"sequence_length"`
	GeneratedTokens int           `json:"generated_tokens"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	StopMarker      string        `json:"stop_marker,omitempty"`
}

// TokensPerSecond is the generation rate over the session's wall time.
func (s Stats) TokensPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.GeneratedTokens) / s.Elapsed.Seconds()
}

// Session owns one generator and the text it has produced so far.
// A Session is not safe for concurrent use and cannot be restarted.
type Session struct {
	gen      engine.Generator
	dec      engine.StreamDecoder
	req      engine.GenerationRequest
	throttle Throttle
	markers  []string
	logger   *zap.Logger
	label    string

	buf     []byte
	emitted int
	ended   bool
	err     error

	generated int
	seqLen    int
	marker    string
	start     time.Time
	elapsed   time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithThrottle sets the pacing policy.
func WithThrottle(t Throttle) Option {
	return func(s *Session) {
		if t != nil {
			s.throttle = t
		}
	}
}

// WithStopMarkers replaces DefaultStopMarkers.
func WithStopMarkers(markers []string) Option {
	return func(s *Session) { s.markers = append([]string(nil), markers...) }
}

// WithLogger sets the diagnostic logger faults are reported on.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLabel names the session in logs and metrics.
func WithLabel(label string) Option {
	return func(s *Session) { s.label = label }
}

// New creates a generator for req on eng.
func New(ctx context.Context, eng *engine.Engine, req engine.GenerationRequest, opts ...Option) (*Session, error) {
	s := &Session{
		req:      req,
		throttle: NoThrottle,
		markers:  DefaultStopMarkers,
		logger:   zap.NewNop(),
		label:    "generate",
	}
	for _, opt := range opts {
		opt(s)
	}

	gen, err := eng.Model.NewGenerator(ctx, req)
	if err != nil {
		return nil, err
	}
	s.gen = gen
	s.dec = eng.Tokenizer.NewStream()
	s.seqLen = req.Prompt.Len()
	s.start = time.Now()
	return s, nil
}

// Next performs one pull. Faults are reported as a Faulted result, never
// returned as errors.
func (s *Session) Next(ctx context.Context) StepResult {
	if s.ended {
		return StepResult{Kind: Done}
	}

	for {
		if s.gen.IsDone() || s.atLimit() {
			return s.finish("done")
		}
		if err := s.throttle.Wait(ctx); err != nil {
			return s.fault(err)
		}
		if err := s.gen.ComputeNext(ctx); err != nil {
			return s.fault(err)
		}
		if s.gen.IsDone() {
			return s.finish("done")
		}
		tok, err := s.gen.SampleNext()
		if err != nil {
			return s.fault(err)
		}
		piece, err := s.dec.Decode(tok)
		if err != nil {
			return s.fault(err)
		}
		s.generated++
		s.buf = append(s.buf, piece...)

		text := string(s.buf)
		if ContainsAny(text, s.markers) {
			idx, marker := FirstIndex(text, s.markers)
			s.buf = s.buf[:max(idx, s.emitted)]
			s.marker = marker
			return s.finish("stopped")
		}

		end := len(s.buf) - heldSuffix(text[s.emitted:], s.markers)
		if end > s.emitted {
			frag := string(s.buf[s.emitted:end])
			s.emitted = end
			return StepResult{Kind: Continue, Fragment: frag}
		}
	}
}

// Fragments adapts Next to a range-over-func iterator. Iteration ends on Done
// or Faulted; the fault, if any, is available from Err afterwards. Breaking
// out of the loop closes the session.
func (s *Session) Fragments(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			r := s.Next(ctx)
			if r.Kind != Continue {
				return
			}
			if !yield(r.Fragment) {
				s.Close()
				return
			}
		}
	}
}

// Result is a drained session.
type Result struct {
	Text  string
	Kind  Kind
	Err   error
	Stats Stats
}

// Drain pulls the session to completion, passing every fragment to fn (which
// may be nil). Kind is Faulted when the session ended on a fault.
func (s *Session) Drain(ctx context.Context, fn func(fragment string)) Result {
	var sb strings.Builder
	kind := Done
	for {
		r := s.Next(ctx)
		if r.Kind == Continue {
			sb.WriteString(r.Fragment)
			if fn != nil {
				fn(r.Fragment)
			}
			continue
		}
		if r.Kind == Faulted {
			kind = Faulted
		}
		break
	}
	return Result{Text: sb.String(), Kind: kind, Err: s.err, Stats: s.Stats()}
}

// Text returns the session buffer: everything yielded so far plus any text
// still held back while it could become a stop marker.
func (s *Session) Text() string { return string(s.buf) }

// Err returns the fault that ended the session, if any.
func (s *Session) Err() error { return s.err }

// Ended reports whether the session has terminated.
func (s *Session) Ended() bool { return s.ended }

// Stats returns the session statistics.
func (s *Session) Stats() Stats {
	elapsed := s.elapsed
	if !s.ended {
		elapsed = time.Since(s.start)
	}
	return Stats{
		PromptTokens:    s.req.Prompt.Len(),
		SequenceLength:  s.seqLen,
		GeneratedTokens: s.generated,
		Elapsed:         elapsed,
		StopMarker:      s.marker,
	}
}

// Close abandons the session and releases its generator. Closing an ended
// session is a no-op.
func (s *Session) Close() {
	if s.ended {
		return
	}
	s.buf = s.buf[:s.emitted]
	s.end("abandoned")
}

func (s *Session) atLimit() bool {
	return s.req.MaxLength > 0 && len(s.gen.Sequence(0)) >= s.req.MaxLength
}

// finish ends the session normally, flushing any held-back text as a last
// fragment. On a natural end the decoder's pending bytes are flushed too.
func (s *Session) finish(outcome string) StepResult {
	if f, ok := s.dec.(engine.Flusher); ok && outcome == "done" {
		if rest := f.Flush(); rest != "" {
			s.logger.Debug("generation ended inside a character",
				zap.String("stage", s.label))
			s.buf = append(s.buf, rest...)
		}
	}
	frag := string(s.buf[s.emitted:])
	s.emitted = len(s.buf)
	s.end(outcome)
	if frag != "" {
		return StepResult{Kind: Continue, Fragment: frag}
	}
	return StepResult{Kind: Done}
}

func (s *Session) fault(err error) StepResult {
	s.buf = s.buf[:s.emitted]
	s.err = err
	s.logger.Warn("generation step faulted",
		zap.String("stage", s.label),
		zap.Int("generated_tokens", s.generated),
		zap.Error(err))
	metrics.RecordFault(s.label)
	s.end("faulted")
	return StepResult{Kind: Faulted, Err: err}
}

func (s *Session) end(outcome string) {
	s.ended = true
	s.seqLen = len(s.gen.Sequence(0))
	s.elapsed = time.Since(s.start)
	if err := s.gen.Close(); err != nil {
		s.logger.Debug("generator close failed", zap.String("stage", s.label), zap.Error(err))
	}
	metrics.RecordSession(s.label, outcome, s.generated, s.elapsed)
	s.logger.Debug("generation session ended",
		zap.String("stage", s.label),
		zap.String("outcome", outcome),
		zap.Int("generated_tokens", s.generated),
		zap.Int("sequence_length", s.seqLen),
		zap.String("stop_marker", s.marker),
		zap.Duration("elapsed", s.elapsed))
}
