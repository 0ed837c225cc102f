package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/output"
	"github.com/Aman-CERP/docqa/internal/store"
)

// statsOutput is the JSON output of the stats command.
type statsOutput struct {
	Documents  int    `json:"documents"`
	Passages   int    `json:"passages"`
	Vectors    int    `json:"vectors"`
	Dimensions int    `json:"dimensions"`
	State      string `json:"state"`
	Trained    bool   `json:"trained"`
	NList      int    `json:"nlist"`
	NProbe     int    `json:"nprobe"`
	Generation uint64 `json:"generation"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long:  `Show document, passage and vector counts and the vector index state.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := loadedConfig

			// No embedder: stats must work while the model server is down.
			a, err := openApp(ctx, cfg, appOptions{readOnly: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			docs, err := a.store.CountDocuments(ctx)
			if err != nil {
				return err
			}
			passages, err := a.store.CountPassages(ctx)
			if err != nil {
				return err
			}
			s := newStatsOutput(docs, passages, a.vector.Stats())
			s.Provider = cfg.Embeddings.Provider
			s.Model = cfg.Embeddings.Model

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(s)
			}
			out.KeyValues(
				output.Field{Label: "Documents", Value: s.Documents},
				output.Field{Label: "Passages", Value: s.Passages},
				output.Field{Label: "Vectors", Value: s.Vectors},
				output.Field{Label: "Dimensions", Value: s.Dimensions},
				output.Field{Label: "Index state", Value: s.State},
				output.Field{Label: "Partitions", Value: s.NList},
				output.Field{Label: "Probes", Value: s.NProbe},
				output.Field{Label: "Generation", Value: s.Generation},
				output.Field{Label: "Embeddings", Value: s.Provider + "/" + s.Model},
			)
			if s.Passages != s.Vectors {
				out.Warningf("%d passages but %d vectors, run 'docqa check --repair'", s.Passages, s.Vectors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newStatsOutput(docs, passages int, v store.VectorStats) statsOutput {
	return statsOutput{
		Documents:  docs,
		Passages:   passages,
		Vectors:    v.TotalVectors,
		Dimensions: v.Dimension,
		State:      v.State,
		Trained:    v.Trained,
		NList:      v.NList,
		NProbe:     v.NProbe,
		Generation: v.Generation,
	}
}
