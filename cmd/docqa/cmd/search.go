package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/output"
	"github.com/Aman-CERP/docqa/internal/search"
)

type searchOptions struct {
	topK          int
	documentID    int64
	section       string
	vectorOnly    bool
	vectorWeight  float64
	lexicalWeight float64
	jsonOutput    bool
}

// searchHit is the JSON shape of one result.
type searchHit struct {
	Rank            int            `json:"rank"`
	PassageID       int64          `json:"passage_id"`
	DocumentID      int64          `json:"document_id"`
	SectionType     string         `json:"section_type,omitempty"`
	Score           float64        `json:"score"`
	VectorScore     float64        `json:"vector_score"`
	LexicalScore    float64        `json:"lexical_score"`
	RawVectorScore  float64        `json:"raw_vector_score"`
	RawLexicalScore float64        `json:"raw_lexical_score"`
	Text            string         `json:"text"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type searchOutput struct {
	Query   string      `json:"query"`
	Mode    string      `json:"mode"`
	Results []searchHit `json:"results"`
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed passages",
		Long: `Search indexed passages with hybrid retrieval.

Vector and BM25 scores are each normalized by their best match and combined
with the configured weights. --vector-only ranks by vector similarity alone.

Examples:
  docqa search "fièvre persistante"
  docqa search "fracture" --section diagnostic --top-k 5
  docqa search "paracetamol" --document-id 12 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.vectorWeight, opts.lexicalWeight = -1, -1
			if cmd.Flags().Changed("vector-weight") {
				opts.vectorWeight, _ = cmd.Flags().GetFloat64("vector-weight")
			}
			if cmd.Flags().Changed("lexical-weight") {
				opts.lexicalWeight, _ = cmd.Flags().GetFloat64("lexical-weight")
			}
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Maximum number of results (default: search.default_top_k)")
	cmd.Flags().Int64Var(&opts.documentID, "document-id", 0, "Only passages of this document")
	cmd.Flags().StringVar(&opts.section, "section", "", "Only passages of this section (anamnese, diagnostic, traitement, examen, evolution, general)")
	cmd.Flags().BoolVar(&opts.vectorOnly, "vector-only", false, "Rank by vector similarity only")
	cmd.Flags().Float64("vector-weight", 0, "Override the vector weight")
	cmd.Flags().Float64("lexical-weight", 0, "Override the lexical weight")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(ctx, loadedConfig, appOptions{readOnly: true, embedder: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	searchOpts := search.SearchOptions{
		TopK:       opts.topK,
		VectorOnly: opts.vectorOnly,
		Filters:    search.Filters{SectionType: opts.section},
	}
	if opts.documentID > 0 {
		id := opts.documentID
		searchOpts.Filters.DocumentID = &id
	}
	if opts.vectorWeight >= 0 || opts.lexicalWeight >= 0 {
		w := search.Weights{Vector: loadedConfig.Search.VectorWeight, Lexical: loadedConfig.Search.LexicalWeight}
		if opts.vectorWeight >= 0 {
			w.Vector = opts.vectorWeight
		}
		if opts.lexicalWeight >= 0 {
			w.Lexical = opts.lexicalWeight
		}
		searchOpts.Weights = &w
	}

	results, err := a.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.Int("results", len(results)), slog.Bool("vector_only", opts.vectorOnly))

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOutput {
		return out.JSON(toSearchOutput(query, opts.vectorOnly, results))
	}

	hits := make([]output.Hit, len(results))
	for i, r := range results {
		hits[i] = output.Hit{
			Rank:         i + 1,
			PassageID:    r.PassageID,
			DocumentID:   r.DocumentID,
			SectionType:  r.SectionType,
			Score:        r.Score,
			VectorScore:  r.VectorScore,
			LexicalScore: r.LexicalScore,
			Text:         r.Text,
		}
	}
	out.Hits(query, hits)
	return nil
}

func toSearchOutput(query string, vectorOnly bool, results []*search.SearchResult) searchOutput {
	mode := "hybrid"
	if vectorOnly {
		mode = "vector"
	}
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			Rank:            i + 1,
			PassageID:       r.PassageID,
			DocumentID:      r.DocumentID,
			SectionType:     r.SectionType,
			Score:           r.Score,
			VectorScore:     r.VectorScore,
			LexicalScore:    r.LexicalScore,
			RawVectorScore:  r.RawVectorScore,
			RawLexicalScore: r.RawLexicalScore,
			Text:            r.Text,
			Metadata:        r.Metadata,
		}
	}
	return searchOutput{Query: query, Mode: mode, Results: hits}
}
