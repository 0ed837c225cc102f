package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/output"
)

func newDeleteCmd() *cobra.Command {
	var id int64
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a document's passages and vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id <= 0 {
				return docqaerrors.ValidationError(fmt.Sprintf("--id must be positive, got %d", id), nil)
			}
			ctx := cmd.Context()

			a, err := openApp(ctx, loadedConfig, appOptions{embedder: true, lazyEmbedder: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.indexer.DeleteDocument(ctx, id)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(res)
			}
			out.Successf("deleted %d passages of document %d", res.ChunksDeleted, res.DocumentID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Document id (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
