// Package chunk splits clinical document text into section-tagged,
// token-bounded passages.
package chunk

import (
	"context"
)

// Chunk size defaults.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// Metadata keys written by the chunker on top of caller metadata.
const (
	MetaSectionType = "section_type"
	MetaChunkIndex  = "chunk_index"
	MetaTokenStart  = "token_start"
	MetaTokenEnd    = "token_end"
)

// SectionType tags the clinical section a passage came from.
type SectionType string

const (
	SectionAnamnese   SectionType = "anamnese"
	SectionDiagnostic SectionType = "diagnostic"
	SectionTraitement SectionType = "traitement"
	SectionExamen     SectionType = "examen"
	SectionEvolution  SectionType = "evolution"
	SectionGeneral    SectionType = "general"
)

// Section is a run of lines sharing one detected section type.
type Section struct {
	Type      SectionType
	StartLine int // 0-indexed
	EndLine   int // exclusive
	Text      string
}

// TokenSpan is a half-open token range within a section.
type TokenSpan struct {
	Start int
	End   int
}

// Passage is a chunk draft, not yet assigned a passage id.
type Passage struct {
	Text        string
	Position    int // 0-based order within the document
	SectionType SectionType
	ChunkIndex  int        // window index within the section
	Span        *TokenSpan // nil when the section fit in one passage
	Metadata    map[string]any
}

// Chunker splits document text into passages.
type Chunker interface {
	Chunk(ctx context.Context, text string, metadata map[string]any) ([]Passage, error)
}

// Token is a word located by byte offsets in the source text.
type Token struct {
	Start int
	End   int
}

// Tokenizer produces the token sequence used for windowing.
// Identical input must always yield identical tokens.
type Tokenizer interface {
	Tokenize(text string) []Token
}
