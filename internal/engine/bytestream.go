package engine

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// PieceFunc returns the raw bytes a token stands for.
type PieceFunc func(tok Token) ([]byte, error)

// byteStream reassembles UTF-8 across token boundaries. Byte-level BPE
// vocabularies split multi-byte characters over several tokens, so a token's
// bytes are held until the character they start is complete.
type byteStream struct {
	piece   PieceFunc
	pending []byte
}

// NewByteStream returns a StreamDecoder that never emits half a rune. Bytes
// that can never form a valid rune are flushed as U+FFFD.
func NewByteStream(piece PieceFunc) StreamDecoder {
	return &byteStream{piece: piece}
}

func (s *byteStream) Decode(tok Token) (string, error) {
	b, err := s.piece(tok)
	if err != nil {
		return "", err
	}
	s.pending = append(s.pending, b...)

	n := completePrefix(s.pending)
	if n == 0 {
		return "", nil
	}
	out := strings.ToValidUTF8(string(s.pending[:n]), "\uFFFD")
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return out, nil
}

// Flush emits pending bytes that never completed a rune as U+FFFD.
func (s *byteStream) Flush() string {
	if len(s.pending) == 0 {
		return ""
	}
	out := strings.ToValidUTF8(string(s.pending), "\uFFFD")
	s.pending = s.pending[:0]
	return out
}

// completePrefix returns how many leading bytes of b can be emitted. Only an
// incomplete rune at the very end is held back.
func completePrefix(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return n
		}
		return i
	}
	return n
}

// PieceTable interns text pieces under synthetic token ids. Text-level
// backends (llama.cpp server, go-llama.cpp callbacks) hand out strings rather
// than vocabulary ids; the table lets them satisfy the token contracts.
// Ids are only meaningful to the table that issued them.
type PieceTable struct {
	mu     sync.RWMutex
	ids    map[string]Token
	pieces []string
}

// NewPieceTable returns an empty table.
func NewPieceTable() *PieceTable {
	return &PieceTable{ids: make(map[string]Token)}
}

// Intern returns the id for piece, assigning a new one on first sight.
func (t *PieceTable) Intern(piece string) Token {
	t.mu.RLock()
	id, ok := t.ids[piece]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[piece]; ok {
		return id
	}
	id = Token(len(t.pieces))
	t.pieces = append(t.pieces, piece)
	t.ids[piece] = id
	return id
}

// Piece returns the text behind id.
func (t *PieceTable) Piece(tok Token) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tok < 0 || int(tok) >= len(t.pieces) {
		return "", fmt.Errorf("engine: unknown piece id %d", tok)
	}
	return t.pieces[tok], nil
}

// Bytes is Piece as a PieceFunc.
func (t *PieceTable) Bytes(tok Token) ([]byte, error) {
	p, err := t.Piece(tok)
	if err != nil {
		return nil, err
	}
	return []byte(p), nil
}

// NewStream returns a decoder over the table.
func (t *PieceTable) NewStream() StreamDecoder {
	return NewByteStream(t.Bytes)
}

// Len reports how many distinct pieces have been interned.
func (t *PieceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pieces)
}
