package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/index"
	"github.com/Aman-CERP/docqa/internal/ingest"
	"github.com/Aman-CERP/docqa/internal/output"
	"github.com/Aman-CERP/docqa/internal/store"
)

type indexOptions struct {
	id         int64
	file       string
	title      string
	metadata   map[string]string
	queue      bool
	jsonOutput bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a document",
		Long: `Store a document and index its passages.

With --file the document content is saved first (use - for stdin). Without
it, the content already stored for --id is re-indexed. With --queue the job
is published for 'docqa serve' instead of being indexed here.

Examples:
  docqa index --id 12 --file note.txt --title "Consultation 12"
  docqa index --id 12 --meta patient=p-7 --meta ward=B --file note.txt
  docqa index --id 12 --queue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.id, "id", 0, "Document id (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read document content from a file, - for stdin")
	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (default: file name)")
	cmd.Flags().StringToStringVar(&opts.metadata, "meta", nil, "Metadata key=value pairs copied onto every passage")
	cmd.Flags().BoolVar(&opts.queue, "queue", false, "Publish the job to the queue instead of indexing locally")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	if opts.id <= 0 {
		return docqaerrors.ValidationError(fmt.Sprintf("--id must be positive, got %d", opts.id), nil)
	}
	out := output.New(cmd.OutOrStdout())

	content, err := readContent(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}
	metadata := stringMap(opts.metadata)

	if opts.queue {
		return publishJob(ctx, out, opts, content, metadata)
	}

	a, err := openApp(ctx, loadedConfig, appOptions{embedder: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if opts.file != "" {
		if err := saveDocument(ctx, a.store, opts, content, metadata); err != nil {
			return err
		}
	}

	res, err := a.indexer.IndexDocument(ctx, index.Request{DocumentID: opts.id, Content: content, Metadata: metadata})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return out.JSON(res)
	}
	out.Successf("indexed document %d: %d passages (replaced %d)", res.DocumentID, res.ChunksCount, res.Replaced)
	return nil
}

// publishJob saves the document when content was given, since the consumer
// only indexes documents that exist, then enqueues the job.
func publishJob(ctx context.Context, out *output.Writer, opts indexOptions, content string, metadata map[string]any) error {
	cfg := loadedConfig

	if opts.file != "" {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		err = saveDocument(ctx, s, opts, content, metadata)
		_ = s.Close()
		if err != nil {
			return err
		}
	}

	transport := ingest.NewAMQPTransport(amqpConfig(cfg))
	job := ingest.Job{DocumentID: opts.id, Content: content, Metadata: metadata}
	if err := transport.Publish(ctx, job); err != nil {
		return err
	}

	slog.Info("job_published", slog.Int64("document_id", opts.id), slog.String("queue", transport.Queue()))
	if opts.jsonOutput {
		return out.JSON(map[string]any{"status": "queued", "document_id": opts.id, "queue": transport.Queue()})
	}
	out.Successf("queued document %d on %s", opts.id, transport.Queue())
	return nil
}

func saveDocument(ctx context.Context, s store.DocumentStore, opts indexOptions, content string, metadata map[string]any) error {
	title := opts.title
	if title == "" && opts.file != "-" {
		title = filepath.Base(opts.file)
	}
	return s.SaveDocument(ctx, &store.Document{ID: opts.id, Title: title, Content: content, Metadata: metadata})
}

func readContent(stdin io.Reader, path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", docqaerrors.New(docqaerrors.ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func stringMap(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
