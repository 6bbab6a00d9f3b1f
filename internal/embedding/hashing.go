package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashingDimensions is the vector width of the hashing provider.
const DefaultHashingDimensions = 4096

// HashingProvider embeds text as a hashed bag of terms. Latin-script text is
// split into lowercase words; CJK runs, which have no word delimiters, are
// split into overlapping character bigrams. It needs no model and is
// deterministic, which suits glossary lookups over small local corpora.
type HashingProvider struct {
	dims int
}

// NewHashingProvider returns a provider with dims buckets (DefaultHashingDimensions when dims <= 0).
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingProvider{dims: dims}
}

// Dimensions returns the vector width.
func (p *HashingProvider) Dimensions() int { return p.dims }

// Embed returns the L2-normalised term-frequency vector of text.
func (p *HashingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, p.dims)
	for _, term := range Terms(text) {
		v[xxhash.Sum64String(term)%uint64(p.dims)]++
	}
	return Normalize(v), nil
}

// Close is a no-op.
func (p *HashingProvider) Close() error { return nil }

// Terms splits text into the features the hashing provider counts.
func Terms(text string) []string {
	var (
		terms []string
		word  strings.Builder
		cjk   []rune
	)

	flushWord := func() {
		if word.Len() > 0 {
			terms = append(terms, word.String())
			word.Reset()
		}
	}
	flushCJK := func() {
		switch len(cjk) {
		case 0:
		case 1:
			terms = append(terms, string(cjk))
		default:
			for i := 0; i+1 < len(cjk); i++ {
				terms = append(terms, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word.WriteRune(unicode.ToLower(r))
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return terms
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) || r == 'ー'
}
