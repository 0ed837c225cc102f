// Package output formats CLI results as aligned text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// snippetWidth is the rune length of result previews in text mode.
const snippetWidth = 160

// Writer writes command output.
type Writer struct {
	out io.Writer
}

// New creates a Writer over out.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a line with an optional leading icon.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✅", fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("⚠️ ", fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Field is one label/value row of a KeyValues block.
type Field struct {
	Label string
	Value any
}

// KeyValues prints rows with labels padded to a common width.
func (w *Writer) KeyValues(fields ...Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label)+1)
	}
	for _, f := range fields {
		_, _ = fmt.Fprintf(w.out, "  %-*s  %v\n", width, f.Label+":", f.Value)
	}
}

// Hit is one ranked passage to print.
type Hit struct {
	Rank         int
	PassageID    int64
	DocumentID   int64
	SectionType  string
	Score        float64
	VectorScore  float64
	LexicalScore float64
	Text         string
}

// Hits prints ranked passages, each with a one-line preview.
func (w *Writer) Hits(query string, hits []Hit) {
	if len(hits) == 0 {
		_, _ = fmt.Fprintf(w.out, "No results for %q\n", query)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%d results for %q\n\n", len(hits), query)
	for _, h := range hits {
		section := h.SectionType
		if section == "" {
			section = "-"
		}
		_, _ = fmt.Fprintf(w.out, "%2d. [%.3f] doc %d, passage %d, %s (vector %.3f, lexical %.3f)\n",
			h.Rank, h.Score, h.DocumentID, h.PassageID, section, h.VectorScore, h.LexicalScore)
		_, _ = fmt.Fprintf(w.out, "    %s\n", Snippet(h.Text, snippetWidth))
	}
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Snippet collapses whitespace and cuts text to n runes, marking the cut.
func Snippet(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
