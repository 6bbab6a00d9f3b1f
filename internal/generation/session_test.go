package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Pivot/internal/engine"
	"Pivot/internal/engine/scripted"
)

// pieceGen replays a fixed list of pieces through a PieceTable.
type pieceGen struct {
	table    *engine.PieceTable
	pieces   []string
	failAt   int
	failErr  error
	pos      int
	seq      []engine.Token
	computes int
	closed   bool
}

func (g *pieceGen) IsDone() bool { return g.pos >= len(g.pieces) }

func (g *pieceGen) ComputeNext(context.Context) error {
	g.computes++
	if g.failErr != nil && g.pos == g.failAt {
		return g.failErr
	}
	return nil
}

func (g *pieceGen) SampleNext() (engine.Token, error) {
	tok := g.table.Intern(g.pieces[g.pos])
	g.pos++
	g.seq = append(g.seq, tok)
	return tok, nil
}

func (g *pieceGen) Sequence(int) []engine.Token { return g.seq }

func (g *pieceGen) Close() error {
	g.closed = true
	return nil
}

type pieceModel struct{ gen *pieceGen }

func (m pieceModel) NewGenerator(_ context.Context, req engine.GenerationRequest) (engine.Generator, error) {
	m.gen.seq = append([]engine.Token(nil), req.Prompt.IDs...)
	return m.gen, nil
}
func (pieceModel) Close() error { return nil }

type tableTokenizer struct{ table *engine.PieceTable }

func (t tableTokenizer) Encode(_ context.Context, text string) (engine.TokenSequence, error) {
	return engine.TokenSequence{Text: text, IDs: []engine.Token{t.table.Intern(text)}}, nil
}
func (t tableTokenizer) NewStream() engine.StreamDecoder { return t.table.NewStream() }

func newPieceSession(t *testing.T, gen *pieceGen, req engine.GenerationRequest, opts ...Option) *Session {
	t.Helper()
	if gen.table == nil {
		gen.table = engine.NewPieceTable()
	}
	eng := &engine.Engine{Name: "pieces", Model: pieceModel{gen: gen}, Tokenizer: tableTokenizer{table: gen.table}}
	s, err := New(context.Background(), eng, req, opts...)
	require.NoError(t, err)
	return s
}

func collect(s *Session) ([]string, []StepResult) {
	var frags []string
	var results []StepResult
	for i := 0; i < 100; i++ {
		r := s.Next(context.Background())
		results = append(results, r)
		if r.Kind == Continue {
			frags = append(frags, r.Fragment)
			continue
		}
		break
	}
	return frags, results
}

func TestSessionStopMarkers(t *testing.T) {
	tests := []struct {
		name       string
		pieces     []string
		wantFrags  []string
		wantMarker string
		wantPulls  int
	}{
		{
			name:       "marker in one piece",
			pieces:     []string{"Hello", " world", "<|end|>", "junk"},
			wantFrags:  []string{"Hello", " world"},
			wantMarker: "<|end|>",
			wantPulls:  3,
		},
		{
			name:       "marker straddles fragments",
			pieces:     []string{"Hello", " wor", "ld<|", "end", "|>", "junk"},
			wantFrags:  []string{"Hello", " wor", "ld"},
			wantMarker: "<|end|>",
			wantPulls:  5,
		},
		{
			name:       "text before marker in the same piece",
			pieces:     []string{"A", "B<|user|>C"},
			wantFrags:  []string{"A", "B"},
			wantMarker: "<|user|>",
			wantPulls:  2,
		},
		{
			name:       "earliest marker wins",
			pieces:     []string{"x<|system|>y<|end|>"},
			wantFrags:  []string{"x"},
			wantMarker: "<|system|>",
			wantPulls:  1,
		},
		{
			name:      "false alarm is released",
			pieces:    []string{"a<", "b", "<|e", "nd"},
			wantFrags: []string{"a", "<b", "<|end"},
			wantPulls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &pieceGen{pieces: tt.pieces}
			s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 100})

			frags, results := collect(s)
			assert.Equal(t, tt.wantFrags, frags)
			assert.Equal(t, Done, results[len(results)-1].Kind)
			assert.Equal(t, tt.wantMarker, s.Stats().StopMarker)
			assert.Equal(t, tt.wantPulls, gen.computes)
			assert.True(t, gen.closed)

			// Join invariant.
			assert.Equal(t, strings.Join(frags, ""), s.Text())
			for _, m := range DefaultStopMarkers {
				assert.NotContains(t, s.Text(), m)
			}

			// No further work once ended.
			assert.Equal(t, StepResult{Kind: Done}, s.Next(context.Background()))
			assert.Equal(t, tt.wantPulls, gen.computes)
		})
	}
}

func TestSessionJoinInvariantAcrossSplits(t *testing.T) {
	full := "答えは42です。<|end|><|user|>more"
	want := "答えは42です。"

	// Split the text at every pair of byte offsets; pieces may cut runes.
	for i := 1; i < len(full); i++ {
		for j := i + 1; j < len(full); j += 3 {
			pieces := []string{full[:i], full[i:j], full[j:]}
			gen := &pieceGen{pieces: pieces}
			s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 100})

			res := s.Drain(context.Background(), nil)
			require.Equal(t, Done, res.Kind)
			require.Equal(t, s.Text(), res.Text, "split %d/%d", i, j)
			require.Equal(t, want, res.Text, "split %d/%d", i, j)
		}
	}
}

func TestSessionHeldTextFlushedOnNaturalEnd(t *testing.T) {
	gen := &pieceGen{pieces: []string{"x<|"}}
	s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 100})

	frags, results := collect(s)
	assert.Equal(t, []string{"x", "<|"}, frags)
	assert.Equal(t, Done, results[len(results)-1].Kind)
	assert.Equal(t, "x<|", s.Text())
	assert.Empty(t, s.Stats().StopMarker)
}

func TestSessionFlushesIncompleteRuneOnEnd(t *testing.T) {
	ja := "翻訳"
	gen := &pieceGen{pieces: []string{"a", ja[:4]}}
	s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 100})

	frags, results := collect(s)
	assert.Equal(t, []string{"a", "翻", "\uFFFD"}, frags)
	assert.Equal(t, Done, results[len(results)-1].Kind)
	assert.Equal(t, "a翻\uFFFD", s.Text())
	assert.Equal(t, s.Text(), strings.Join(frags, ""))
}

func TestSessionFault(t *testing.T) {
	boom := errors.New("kernel launch failed")
	gen := &pieceGen{pieces: []string{"ab", "c<|", "d"}, failAt: 2, failErr: boom}
	s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 100})

	frags, results := collect(s)
	assert.Equal(t, []string{"ab", "c"}, frags)

	last := results[len(results)-1]
	assert.Equal(t, Faulted, last.Kind)
	assert.ErrorIs(t, last.Err, boom)
	assert.ErrorIs(t, s.Err(), boom)
	assert.Equal(t, "abc", s.Text())
	assert.True(t, gen.closed)

	// Faulted is reported exactly once.
	assert.Equal(t, Done, s.Next(context.Background()).Kind)
	assert.Equal(t, Done, s.Next(context.Background()).Kind)
}

func TestSessionDecodeFault(t *testing.T) {
	table := engine.NewPieceTable()
	gen := &pieceGen{table: table, pieces: []string{"ok"}}
	eng := &engine.Engine{
		Model: pieceModel{gen: gen},
		Tokenizer: failingTokenizer{
			tableTokenizer: tableTokenizer{table: table},
		},
	}
	s, err := New(context.Background(), eng, engine.GenerationRequest{MaxLength: 10})
	require.NoError(t, err)

	res := s.Drain(context.Background(), nil)
	assert.Equal(t, Faulted, res.Kind)
	assert.Empty(t, res.Text)
	assert.Error(t, res.Err)
}

type failingTokenizer struct{ tableTokenizer }

func (failingTokenizer) NewStream() engine.StreamDecoder {
	return engine.NewByteStream(func(engine.Token) ([]byte, error) {
		return nil, errors.New("corrupt vocabulary")
	})
}

func TestSessionMaxLength(t *testing.T) {
	gen := &pieceGen{pieces: []string{"a", "b", "c", "d", "e"}}
	req := engine.GenerationRequest{Prompt: engine.TokenSequence{IDs: []engine.Token{900, 901}}, MaxLength: 4}
	s := newPieceSession(t, gen, req)

	res := s.Drain(context.Background(), nil)
	assert.Equal(t, Done, res.Kind)
	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, 4, res.Stats.SequenceLength)
	assert.Equal(t, 2, res.Stats.GeneratedTokens)
	assert.Equal(t, 2, res.Stats.PromptTokens)
}

func TestSessionThrottleCancellation(t *testing.T) {
	gen := &pieceGen{pieces: []string{"a", "b"}}
	s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 10}, WithThrottle(Fixed(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := s.Next(ctx)
	assert.Equal(t, Faulted, r.Kind)
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Equal(t, 0, gen.computes)
}

func TestSessionFragmentsIterator(t *testing.T) {
	gen := &pieceGen{pieces: []string{"one", " two", " three"}}
	s := newPieceSession(t, gen, engine.GenerationRequest{MaxLength: 10})

	var got []string
	for frag := range s.Fragments(context.Background()) {
		got = append(got, frag)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"one", " two"}, got)
	assert.True(t, s.Ended())
	assert.True(t, gen.closed)
	assert.Equal(t, "one two", s.Text())
}

func TestSessionWithScriptedEngine(t *testing.T) {
	eng, err := scripted.New("", scripted.WithResponder(scripted.Literal("The answer is forty-two.<|end|><|user|>ignored")))
	require.NoError(t, err)

	ctx := context.Background()
	seq, err := eng.Tokenizer.Encode(ctx, "<|user|>question<|end|><|assistant|>")
	require.NoError(t, err)

	s, err := New(ctx, eng, engine.GenerationRequest{Prompt: seq, MaxLength: 2000}, WithLabel("primary"))
	require.NoError(t, err)

	var streamed strings.Builder
	res := s.Drain(ctx, func(f string) { streamed.WriteString(f) })

	assert.Equal(t, Done, res.Kind)
	assert.Equal(t, "The answer is forty-two.", res.Text)
	assert.Equal(t, res.Text, streamed.String())
	assert.Equal(t, "<|end|>", res.Stats.StopMarker)
	assert.Greater(t, res.Stats.GeneratedTokens, 0)
	assert.Equal(t, seq.Len()+res.Stats.GeneratedTokens, res.Stats.SequenceLength)
}

func TestStopHelpers(t *testing.T) {
	assert.True(t, ContainsAny("abc<|user|>", DefaultStopMarkers))
	assert.False(t, ContainsAny("abc<|use", DefaultStopMarkers))
	assert.False(t, ContainsAny("anything", nil))

	idx, m := FirstIndex("12<|end|>3<|user|>", DefaultStopMarkers)
	assert.Equal(t, 2, idx)
	assert.Equal(t, "<|end|>", m)

	idx, m = FirstIndex("none", DefaultStopMarkers)
	assert.Equal(t, -1, idx)
	assert.Empty(t, m)

	tests := []struct {
		text string
		want int
	}{
		{"abc", 0},
		{"abc<", 1},
		{"abc<|", 2},
		{"abc<|sys", 5},
		{"abc<|end|", 6},
		{"abc<|x", 0},
		{"<|end|>", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, heldSuffix(tt.text, DefaultStopMarkers))
		})
	}
}

func TestFixedThrottle(t *testing.T) {
	assert.Equal(t, NoThrottle, Fixed(0))

	start := time.Now()
	require.NoError(t, Fixed(5*time.Millisecond).Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokensPerSecond(t *testing.T) {
	assert.InDelta(t, 50.0, Stats{GeneratedTokens: 100, Elapsed: 2 * time.Second}.TokensPerSecond(), 1e-9)
	assert.Zero(t, Stats{GeneratedTokens: 3}.TokensPerSecond())
}
