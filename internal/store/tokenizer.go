package store

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

var (
	lexicalTokenizer = bleveunicode.NewUnicodeTokenizer()
	lexicalLowercase = lowercase.NewLowerCaseFilter()
)

// TokenizeLexical splits text on Unicode word boundaries and case-folds
// each term. Punctuation and whitespace never produce terms.
func TokenizeLexical(text string) []string {
	if text == "" {
		return nil
	}

	var stream analysis.TokenStream = lexicalTokenizer.Tokenize([]byte(text))
	stream = lexicalLowercase.Filter(stream)

	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}
