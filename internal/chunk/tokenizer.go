package chunk

import (
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// UnicodeTokenizer splits text on Unicode word boundaries (UAX #29),
// keeping byte offsets so windows decode back to the original text.
type UnicodeTokenizer struct {
	tok *bleveunicode.UnicodeTokenizer
}

// NewUnicodeTokenizer creates the default tokenizer.
func NewUnicodeTokenizer() *UnicodeTokenizer {
	return &UnicodeTokenizer{tok: bleveunicode.NewUnicodeTokenizer()}
}

// Tokenize implements Tokenizer.
func (t *UnicodeTokenizer) Tokenize(text string) []Token {
	stream := t.tok.Tokenize([]byte(text))
	tokens := make([]Token, len(stream))
	for i, tk := range stream {
		tokens[i] = Token{Start: tk.Start, End: tk.End}
	}
	return tokens
}

var _ Tokenizer = (*UnicodeTokenizer)(nil)
