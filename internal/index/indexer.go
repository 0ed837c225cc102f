// Package index implements the index-document and delete-document
// procedures: chunk, embed, then replace a document's passages in the
// relational store and the vector index.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/docqa/internal/chunk"
	"github.com/Aman-CERP/docqa/internal/embed"
	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/store"
)

// StatusSuccess is reported by successful index and delete calls.
const StatusSuccess = "success"

// Request is one index-document job.
type Request struct {
	DocumentID int64          `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is returned by IndexDocument.
type Result struct {
	Status      string  `json:"status"`
	DocumentID  int64   `json:"document_id"`
	ChunksCount int     `json:"chunks_count"`
	PassageIDs  []int64 `json:"passage_ids"`
	Replaced    int     `json:"replaced"`
}

// DeleteResult is returned by DeleteDocument.
type DeleteResult struct {
	Status        string `json:"status"`
	DocumentID    int64  `json:"document_id"`
	ChunksDeleted int    `json:"chunks_deleted"`
}

// Dependencies are the collaborators an Indexer drives.
type Dependencies struct {
	Store    store.Store
	Vector   store.VectorIndex
	Embedder embed.Embedder
	Chunker  chunk.Chunker
}

// Indexer runs index and delete procedures one at a time.
type Indexer struct {
	store    store.Store
	vector   store.VectorIndex
	embedder embed.Embedder
	chunker  chunk.Chunker

	mu sync.Mutex
}

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// NewIndexer creates an Indexer. Returns an error if any dependency is nil.
func NewIndexer(deps Dependencies) (*Indexer, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrNilDependency)
	case deps.Vector == nil:
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	case deps.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker is required", ErrNilDependency)
	}
	return &Indexer{
		store:    deps.Store,
		vector:   deps.Vector,
		embedder: deps.Embedder,
		chunker:  deps.Chunker,
	}, nil
}

// IndexDocument replaces every passage of an existing document. Empty
// req.Content indexes the content stored with the document, and nil
// req.Metadata uses the stored metadata.
//
// Chunking and embedding happen before anything is mutated, so those
// failures leave the previous passages in place. Running the same request
// twice is safe: the second run deletes what the first one wrote.
func (x *Indexer) IndexDocument(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.DocumentID <= 0 {
		return nil, docqaerrors.ValidationError(fmt.Sprintf("document_id must be positive, got %d", req.DocumentID), nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	doc, err := x.store.GetDocument(ctx, req.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, docqaerrors.NotFoundError(req.DocumentID)
	}
	if err != nil {
		return nil, storeUnavailable("load document", err)
	}

	content := req.Content
	if content == "" {
		content = doc.Content
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = doc.Metadata
	}

	drafts, err := x.chunker.Chunk(ctx, content, metadata)
	if err != nil {
		return nil, wrapIndexError(docqaerrors.ErrCodeChunkingFailed, "chunking failed", err)
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	vectors, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, wrapIndexError(docqaerrors.ErrCodeEmbeddingFailed, "embedding failed", err)
	}
	if len(vectors) != len(drafts) {
		return nil, docqaerrors.New(docqaerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d passages", len(vectors), len(drafts)), nil)
	}

	if _, err := x.vector.DeleteByDocument(ctx, req.DocumentID); err != nil {
		return nil, wrapIndexError(docqaerrors.ErrCodeIndexFailed, "delete previous vectors", err)
	}

	passages := make([]*store.Passage, len(drafts))
	for i, d := range drafts {
		passages[i] = toStorePassage(req.DocumentID, d)
	}
	replaced, err := x.store.ReplacePassages(ctx, req.DocumentID, passages)
	if err != nil {
		return nil, storeUnavailable("replace passages", err)
	}

	ids := make([]int64, len(passages))
	metas := make([]store.VectorMetadata, len(passages))
	for i, p := range passages {
		ids[i] = p.ID
		metas[i] = store.VectorMetadata{
			DocumentID:  req.DocumentID,
			PassageID:   p.ID,
			SectionType: p.SectionType,
			Fields:      p.Metadata,
		}
	}
	if err := x.vector.Add(ctx, vectors, ids, metas); err != nil {
		return nil, wrapIndexError(docqaerrors.ErrCodeIndexFailed, "add vectors", err)
	}

	slog.Info("document_indexed",
		slog.Int64("document_id", req.DocumentID),
		slog.Int("passages", len(passages)),
		slog.Int("replaced", replaced),
		slog.Duration("duration", time.Since(start)))

	return &Result{
		Status:      StatusSuccess,
		DocumentID:  req.DocumentID,
		ChunksCount: len(passages),
		PassageIDs:  ids,
		Replaced:    replaced,
	}, nil
}

// DeleteDocument removes a document's vectors, then its passages.
// A document with nothing indexed is not an error.
func (x *Indexer) DeleteDocument(ctx context.Context, documentID int64) (*DeleteResult, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.vector.DeleteByDocument(ctx, documentID); err != nil {
		return nil, wrapIndexError(docqaerrors.ErrCodeIndexFailed, "delete vectors", err)
	}
	n, err := x.store.DeletePassagesByDocument(ctx, documentID)
	if err != nil {
		return nil, storeUnavailable("delete passages", err)
	}

	slog.Info("document_deleted",
		slog.Int64("document_id", documentID),
		slog.Int("passages", n))

	return &DeleteResult{Status: StatusSuccess, DocumentID: documentID, ChunksDeleted: n}, nil
}

func toStorePassage(documentID int64, d chunk.Passage) *store.Passage {
	p := &store.Passage{
		DocumentID:  documentID,
		Text:        d.Text,
		Position:    d.Position,
		SectionType: string(d.SectionType),
		Metadata:    d.Metadata,
	}
	if d.Span != nil {
		start, end := d.Span.Start, d.Span.End
		p.TokenStart, p.TokenEnd = &start, &end
	}
	return p
}

// wrapIndexError keeps structured errors and context errors as they are.
func wrapIndexError(code, message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := docqaerrors.As(err); ok {
		return err
	}
	return docqaerrors.New(code, message, err)
}

func storeUnavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return docqaerrors.TransientError(docqaerrors.ErrCodeStoreUnavailable, op, err)
}

// ReconcileResult summarizes a Reconcile pass.
type ReconcileResult struct {
	Checked        int     `json:"checked"`
	Issues         int     `json:"issues"`
	OrphansDeleted int     `json:"orphans_deleted"`
	Reindexed      []int64 `json:"reindexed"`
}

// Reconcile brings the vector index back in line with the passage table:
// orphan vectors are deleted and documents with missing vectors are
// re-indexed from their stored content.
func (x *Indexer) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	checker := NewConsistencyChecker(x.store, x.vector)

	check, err := checker.Check(ctx)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{Checked: check.Checked, Issues: len(check.Inconsistencies)}
	if check.Consistent() {
		return result, nil
	}

	repair, err := checker.Repair(ctx, check.Inconsistencies)
	if err != nil {
		return nil, err
	}
	result.OrphansDeleted = repair.OrphansDeleted

	for _, id := range repair.Reindex {
		if _, err := x.IndexDocument(ctx, Request{DocumentID: id}); err != nil {
			return result, fmt.Errorf("re-indexing document %d: %w", id, err)
		}
		result.Reindexed = append(result.Reindexed, id)
	}
	return result, nil
}

// Stats describes what is currently indexed.
type Stats struct {
	Documents int               `json:"documents"`
	Passages  int               `json:"passages"`
	Vector    store.VectorStats `json:"vector"`
}

// Stats counts documents, passages and vectors.
func (x *Indexer) Stats(ctx context.Context) (*Stats, error) {
	docs, err := x.store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	passages, err := x.store.CountPassages(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Documents: docs, Passages: passages, Vector: x.vector.Stats()}, nil
}
