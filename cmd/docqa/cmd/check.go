package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docqa/internal/output"
)

type checkIssue struct {
	Type       string `json:"type"`
	PassageID  int64  `json:"passage_id"`
	DocumentID int64  `json:"document_id,omitempty"`
}

type checkOutput struct {
	Checked    int          `json:"checked"`
	Consistent bool         `json:"consistent"`
	Issues     []checkIssue `json:"issues"`
}

func newCheckCmd() *cobra.Command {
	var repair bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare stored passages with the vector index",
		Long: `Compare the passages in the store with the vectors in the index.

Vectors without a stored passage are orphans; stored passages without a
vector are missing. --repair deletes orphans and re-indexes the documents
with missing vectors from their stored content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			a, err := openApp(ctx, loadedConfig, appOptions{readOnly: !repair, embedder: repair})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if repair {
				res, err := a.indexer.Reconcile(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return out.JSON(res)
				}
				if res.Issues == 0 {
					out.Successf("%d passages checked, nothing to repair", res.Checked)
					return nil
				}
				out.Successf("repaired %d issues: %d orphan vectors deleted, %d documents re-indexed",
					res.Issues, res.OrphansDeleted, len(res.Reindexed))
				return nil
			}

			res, err := a.checker().Check(ctx)
			if err != nil {
				return err
			}
			report := checkOutput{Checked: res.Checked, Consistent: res.Consistent(), Issues: []checkIssue{}}
			for _, issue := range res.Inconsistencies {
				report.Issues = append(report.Issues, checkIssue{
					Type:       issue.Type.String(),
					PassageID:  issue.PassageID,
					DocumentID: issue.DocumentID,
				})
			}

			if jsonOutput {
				return out.JSON(report)
			}
			if report.Consistent {
				out.Successf("%d passages checked, index is consistent", report.Checked)
				return nil
			}
			out.Warningf("%d issues in %d passages", len(report.Issues), report.Checked)
			for _, issue := range report.Issues {
				out.Statusf("", "%s: passage %d", issue.Type, issue.PassageID)
			}
			out.Status("", "run 'docqa check --repair' to fix")
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphan vectors and re-index documents with missing vectors")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
