package vectordb

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Method selects how a document is split into chunks.
type Method int

const (
	// Paragraph splits on blank lines.
	Paragraph Method = iota
	// Sentence splits after sentence-ending punctuation.
	Sentence
)

func (m Method) String() string {
	if m == Sentence {
		return "sentence"
	}
	return "paragraph"
}

// ParseMethod accepts "paragraph" (or empty) and "sentence".
func ParseMethod(v string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "paragraph":
		return Paragraph, nil
	case "sentence":
		return Sentence, nil
	default:
		return Paragraph, fmt.Errorf("vectordb: unknown chunking method %q", v)
	}
}

// ChunkOptions control how AddDocument splits and labels a document.
type ChunkOptions struct {
	Method Method
	// MaxChars re-splits longer chunks on word boundaries. Zero disables it.
	MaxChars int
	// Metadata labels each chunk, typically with its source path.
	Metadata func(chunk string) string
}

// Split breaks text into trimmed, non-empty chunks.
func Split(text string, opts ChunkOptions) []string {
	var parts []string
	if opts.Method == Sentence {
		parts = splitSentences(text)
	} else {
		parts = splitParagraphs(text)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if opts.MaxChars > 0 && utf8.RuneCountInString(p) > opts.MaxChars {
			out = append(out, splitLong(p, opts.MaxChars)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		parts []string
		cur   []string
	)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				parts = append(parts, strings.Join(cur, "\n"))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, "\n"))
	}
	return parts
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var parts []string
	start := 0
	for i, r := range runes {
		switch r {
		case '。', '！', '？':
			parts = append(parts, string(runes[start:i+1]))
			start = i + 1
		case '.', '!', '?':
			if i+1 == len(runes) || isSpace(runes[i+1]) {
				parts = append(parts, string(runes[start:i+1]))
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '　'
}

// splitLong windows a chunk to at most maxChars runes, breaking on whitespace
// where the text has any and on rune boundaries where it does not.
func splitLong(text string, maxChars int) []string {
	words := strings.Fields(text)
	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, w := range words {
		wn := utf8.RuneCountInString(w)
		if wn > maxChars {
			flush()
			runes := []rune(w)
			for start := 0; start < len(runes); start += maxChars {
				end := min(start+maxChars, len(runes))
				chunks = append(chunks, string(runes[start:end]))
			}
			continue
		}
		if n > 0 && n+1+wn > maxChars {
			flush()
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(w)
		n += wn
	}
	flush()
	return chunks
}
