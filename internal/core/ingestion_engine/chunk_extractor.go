package ingestion_engine

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is one window of normalized text. Start and End are rune offsets
// into the normalized text; Text is the window with surrounding space trimmed.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker splits text into overlapping windows, preferring to cut after a
// sentence, then at a paragraph break, then at a space.
type Chunker struct {
	size    int
	overlap int
	// keepParagraphs preserves blank lines as paragraph breaks during
	// normalization. Without it every whitespace run becomes one space.
	keepParagraphs bool
}

func NewChunker(size, overlap int, keepParagraphs bool) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap, keepParagraphs: keepParagraphs}, nil
}

// Normalize collapses whitespace the same way Chunks does before splitting.
func (c *Chunker) Normalize(text string) string {
	if !c.keepParagraphs {
		return strings.Join(strings.Fields(text), " ")
	}
	var paras []string
	for _, p := range splitParagraphs(text) {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}

// Split returns all chunks of text.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out
}

// Chunks returns a lazy sequence over the chunks of text. The sequence can
// be ranged over more than once and yields the same chunks every time.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	runes := []rune(c.Normalize(text))
	return func(yield func(Chunk) bool) {
		n := len(runes)
		if n == 0 {
			return
		}
		if n <= c.size {
			yield(Chunk{Index: 0, Text: string(runes), Start: 0, End: n})
			return
		}

		idx := 0
		for start := 0; start < n; {
			end := min(start+c.size, n)
			if end < n {
				end = c.boundary(runes, start, end)
			}
			if t := strings.TrimSpace(string(runes[start:end])); t != "" {
				if !yield(Chunk{Index: idx, Text: t, Start: start, End: end}) {
					return
				}
				idx++
			}
			if end >= n {
				return
			}
			next := end - c.overlap
			if next <= start {
				next = end
			}
			start = next
		}
	}
}

// boundary picks the cut point for the window [start, end).
func (c *Chunker) boundary(runes []rune, start, end int) int {
	sentenceFloor := start + c.size*7/10
	spaceFloor := max(start+c.size/2, start+1)

	for p := end - 1; p >= sentenceFloor; p-- {
		if runes[p] == '.' {
			return p + 1
		}
	}
	for p := end - 2; p >= sentenceFloor; p-- {
		if runes[p] == '\n' && runes[p+1] == '\n' {
			return p + 2
		}
	}
	for p := end - 1; p >= spaceFloor; p-- {
		if unicode.IsSpace(runes[p]) {
			return p
		}
	}
	return end
}

func splitParagraphs(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var (
		paras []string
		cur   []string
	)
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if len(cur) > 0 {
				paras = append(paras, strings.Join(cur, " "))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, " "))
	}
	return paras
}
