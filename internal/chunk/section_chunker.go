package chunk

import (
	"context"
	"fmt"
	"maps"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
)

// ErrInvalidConfig is returned for chunk windows that cannot advance.
var ErrInvalidConfig = docqaerrors.New(docqaerrors.ErrCodeInvalidChunkerConfig, "invalid chunker configuration", nil)

// Options configures the section chunker.
type Options struct {
	ChunkSize    int       // tokens per window
	ChunkOverlap int       // tokens shared by consecutive windows
	Tokenizer    Tokenizer // nil uses UnicodeTokenizer
}

// DefaultOptions returns 512-token windows with 50 tokens of overlap.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// SectionChunker detects clinical sections and windows each one by tokens.
type SectionChunker struct {
	size      int
	overlap   int
	tokenizer Tokenizer
}

// NewSectionChunker validates opts and builds a chunker.
// Overlap >= size would never advance and is rejected here.
func NewSectionChunker(opts Options) (*SectionChunker, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, opts.ChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, opts.ChunkOverlap, opts.ChunkSize)
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = NewUnicodeTokenizer()
	}
	return &SectionChunker{size: opts.ChunkSize, overlap: opts.ChunkOverlap, tokenizer: opts.Tokenizer}, nil
}

// Chunk splits text into ordered passages. Empty text yields one empty
// "general" passage.
func (c *SectionChunker) Chunk(ctx context.Context, text string, metadata map[string]any) ([]Passage, error) {
	var passages []Passage
	for _, sec := range DetectSections(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		passages = c.appendSection(passages, sec, metadata)
	}
	return passages, nil
}

func (c *SectionChunker) appendSection(out []Passage, sec Section, base map[string]any) []Passage {
	tokens := c.tokenizer.Tokenize(sec.Text)

	if len(tokens) <= c.size {
		return append(out, Passage{
			Text:        sec.Text,
			Position:    len(out),
			SectionType: sec.Type,
			Metadata:    passageMetadata(base, sec.Type, 0, nil),
		})
	}

	step := c.size - c.overlap
	n := len(tokens)
	for start, idx := 0, 0; start < n; start, idx = start+step, idx+1 {
		end := min(start+c.size, n)
		span := &TokenSpan{Start: start, End: end}
		out = append(out, Passage{
			Text:        sec.Text[tokens[start].Start:tokens[end-1].End],
			Position:    len(out),
			SectionType: sec.Type,
			ChunkIndex:  idx,
			Span:        span,
			Metadata:    passageMetadata(base, sec.Type, idx, span),
		})
		if end == n {
			break
		}
	}
	return out
}

func passageMetadata(base map[string]any, typ SectionType, idx int, span *TokenSpan) map[string]any {
	md := make(map[string]any, len(base)+4)
	maps.Copy(md, base)
	md[MetaSectionType] = string(typ)
	md[MetaChunkIndex] = idx
	if span != nil {
		md[MetaTokenStart] = span.Start
		md[MetaTokenEnd] = span.End
	}
	return md
}

var _ Chunker = (*SectionChunker)(nil)
