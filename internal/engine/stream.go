package engine

import (
	"context"
	"sync"
)

// Producer runs one text-level generation and calls emit for each piece in
// order. emit reports false once the consumer has gone away; the producer
// should then return promptly.
type Producer func(ctx context.Context, emit func(piece string) bool) error

// streamGenerator adapts a push-style Producer to the pull-style Generator.
// The producer goroutine hands over one piece per ComputeNext, so generation
// never runs ahead of the consumer.
type streamGenerator struct {
	table  *PieceTable
	max    int
	cancel context.CancelFunc

	pieces chan string
	finish chan error

	seq     []Token
	next    string
	hasNext bool
	done    bool
	closed  bool
	once    sync.Once
}

// NewStreamGenerator starts produce in a goroutine and returns a Generator
// that pulls its pieces in lock-step. The sequence starts with the prompt ids
// and the generator reports done once it reaches req.MaxLength.
func NewStreamGenerator(ctx context.Context, req GenerationRequest, table *PieceTable, produce Producer) Generator {
	ctx, cancel := context.WithCancel(ctx)
	g := &streamGenerator{
		table:  table,
		max:    req.MaxLength,
		cancel: cancel,
		pieces: make(chan string),
		finish: make(chan error, 1),
		seq:    append([]Token(nil), req.Prompt.IDs...),
	}

	go func() {
		emit := func(piece string) bool {
			if piece == "" {
				return ctx.Err() == nil
			}
			select {
			case g.pieces <- piece:
				return true
			case <-ctx.Done():
				return false
			}
		}
		g.finish <- produce(ctx, emit)
		close(g.pieces)
	}()

	return g
}

func (g *streamGenerator) IsDone() bool {
	return g.done || g.closed || (g.max > 0 && len(g.seq) >= g.max)
}

func (g *streamGenerator) ComputeNext(ctx context.Context) error {
	if g.closed {
		return ErrGeneratorClosed
	}
	select {
	case p, ok := <-g.pieces:
		if !ok {
			g.done = true
			return <-g.finish
		}
		g.next = p
		g.hasNext = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *streamGenerator) SampleNext() (Token, error) {
	if g.closed {
		return 0, ErrGeneratorClosed
	}
	if !g.hasNext {
		return 0, errNoPiece
	}
	tok := g.table.Intern(g.next)
	g.seq = append(g.seq, tok)
	g.hasNext = false
	return tok, nil
}

func (g *streamGenerator) Sequence(int) []Token {
	return g.seq
}

func (g *streamGenerator) Close() error {
	g.once.Do(func() {
		g.closed = true
		g.cancel()
		// Unblock and reap the producer.
		for range g.pieces {
		}
	})
	return nil
}
