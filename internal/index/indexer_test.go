package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docqa/internal/chunk"
	"github.com/Aman-CERP/docqa/internal/embed"
	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/store"
)

const testDims = 32

const clinicalNote = "ANAMNÈSE: patient reports fever.\nDIAGNOSTIC: flu confirmed."

type fixture struct {
	indexer  *Indexer
	store    *store.SQLiteStore
	vector   *store.IVFIndex
	embedder *switchableEmbedder
}

// switchableEmbedder fails every call while failing is set.
type switchableEmbedder struct {
	embed.Embedder
	failing bool
}

func (e *switchableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.failing {
		return nil, errors.New("embedding backend down")
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, err := store.OpenIVFIndex(store.DefaultIVFConfig("", testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	c, err := chunk.NewSectionChunker(chunk.DefaultOptions())
	require.NoError(t, err)

	e := &switchableEmbedder{Embedder: embed.NewStaticEmbedder(testDims)}

	x, err := NewIndexer(Dependencies{Store: s, Vector: v, Embedder: e, Chunker: c})
	require.NoError(t, err)

	return &fixture{indexer: x, store: s, vector: v, embedder: e}
}

func (f *fixture) saveDocument(t *testing.T, id int64, content string) {
	t.Helper()
	require.NoError(t, f.store.SaveDocument(context.Background(), &store.Document{ID: id, Title: fmt.Sprintf("doc %d", id), Content: content}))
}

func (f *fixture) storedIDs(t *testing.T) []int64 {
	t.Helper()
	passages, err := f.store.ListPassages(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.ID)
	}
	return ids
}

// TS01: A two-section note becomes two tagged passages in both stores
func TestIndexer_IndexDocument_Sections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 7, "")

	// When: indexing a note with an anamnesis and a diagnosis
	res, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 7, Content: clinicalNote, Metadata: map[string]any{"source": "ward"}})
	require.NoError(t, err)

	// Then: two passages are reported and persisted in order
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(7), res.DocumentID)
	assert.Equal(t, 2, res.ChunksCount)
	assert.Len(t, res.PassageIDs, 2)
	assert.Zero(t, res.Replaced)

	passages, err := f.store.ListPassagesByDocument(ctx, 7)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "anamnese", passages[0].SectionType)
	assert.Equal(t, 0, passages[0].Position)
	assert.Contains(t, passages[0].Text, "fever")
	assert.Equal(t, "diagnostic", passages[1].SectionType)
	assert.Equal(t, 1, passages[1].Position)
	assert.Contains(t, passages[1].Text, "flu")
	assert.Equal(t, "ward", passages[0].Metadata["source"])

	// And: every passage has a vector tagged with its document
	assert.Equal(t, f.storedIDs(t), f.vector.PassageIDs())
	query, err := f.embedder.Embed(ctx, passages[1].Text)
	require.NoError(t, err)
	hits, err := f.vector.Search(ctx, query, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, passages[1].ID, hits[0].PassageID)
	assert.Equal(t, int64(7), hits[0].Metadata.DocumentID)
	assert.Equal(t, "diagnostic", hits[0].Metadata.SectionType)
}

// TS02: Re-indexing replaces passages instead of accumulating them
func TestIndexer_IndexDocument_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 1, "")

	first, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: clinicalNote})
	require.NoError(t, err)

	// When: the same job runs again
	second, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: clinicalNote})
	require.NoError(t, err)

	// Then: the old passages were replaced one for one
	assert.Equal(t, 2, second.Replaced)
	assert.NotEqual(t, first.PassageIDs, second.PassageIDs)
	assert.Equal(t, second.PassageIDs, f.storedIDs(t))
	assert.Equal(t, second.PassageIDs, f.vector.PassageIDs())
	assert.Equal(t, 2, f.vector.Stats().TotalVectors)
}

// TS03: Unknown documents are rejected without side effects
func TestIndexer_IndexDocument_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.indexer.IndexDocument(context.Background(), Request{DocumentID: 404, Content: clinicalNote})

	require.Error(t, err)
	assert.True(t, docqaerrors.IsNotFound(err))
	assert.Empty(t, f.storedIDs(t))
	assert.Empty(t, f.vector.PassageIDs())
}

func TestIndexer_IndexDocument_InvalidID(t *testing.T) {
	f := newFixture(t)

	for _, id := range []int64{0, -3} {
		_, err := f.indexer.IndexDocument(context.Background(), Request{DocumentID: id, Content: "x"})
		require.Error(t, err)
		assert.Equal(t, docqaerrors.ErrCodeInvalidInput, docqaerrors.GetCode(err))
	}
}

// TS04: An embedding failure leaves the previous index untouched
func TestIndexer_IndexDocument_EmbedFailurePreservesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 1, "")

	first, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: clinicalNote})
	require.NoError(t, err)

	// When: re-indexing while the embedder is down
	f.embedder.failing = true
	_, err = f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: "EXAMEN: new findings"})

	// Then: the job fails and both stores still hold the first run
	require.Error(t, err)
	assert.Equal(t, docqaerrors.ErrCodeEmbeddingFailed, docqaerrors.GetCode(err))
	assert.Equal(t, first.PassageIDs, f.storedIDs(t))
	assert.Equal(t, first.PassageIDs, f.vector.PassageIDs())
}

// TS05: Empty job content falls back to the stored document content
func TestIndexer_IndexDocument_UsesStoredContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 3, "TRAITEMENT: paracetamol 1g")

	res, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 3})
	require.NoError(t, err)

	require.Equal(t, 1, res.ChunksCount)
	p, err := f.store.GetPassage(ctx, res.PassageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "traitement", p.SectionType)
	assert.Contains(t, p.Text, "paracetamol")
}

// TS06: A small corpus keeps the vector index in exact-search mode
func TestIndexer_IndexDocument_SmallCorpusStaysUntrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for id := int64(1); id <= 10; id++ {
		f.saveDocument(t, id, "")
		_, err := f.indexer.IndexDocument(ctx, Request{DocumentID: id, Content: fmt.Sprintf("suivi du patient numéro %d", id)})
		require.NoError(t, err)
	}

	stats := f.vector.Stats()
	assert.Equal(t, 10, stats.TotalVectors)
	assert.False(t, stats.Trained)
	assert.Equal(t, "untrained", stats.State)
}

func TestIndexer_IndexDocument_LongSectionIsWindowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 1, "")

	words := make([]string, 1200)
	for i := range words {
		words[i] = fmt.Sprintf("mot%d", i)
	}

	res, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: strings.Join(words, " ")})
	require.NoError(t, err)

	passages, err := f.store.ListPassagesByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, passages, res.ChunksCount)
	require.Greater(t, len(passages), 1)
	for i, p := range passages {
		assert.Equal(t, i, p.Position)
		require.NotNil(t, p.TokenStart)
		require.NotNil(t, p.TokenEnd)
		assert.Less(t, *p.TokenStart, *p.TokenEnd)
	}
}

// TS07: Deleting removes vectors and passages and reports the count
func TestIndexer_DeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 1, "")
	f.saveDocument(t, 2, "")
	_, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: clinicalNote})
	require.NoError(t, err)
	kept, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 2, Content: "EXAMEN: normal"})
	require.NoError(t, err)

	res, err := f.indexer.DeleteDocument(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, &DeleteResult{Status: StatusSuccess, DocumentID: 1, ChunksDeleted: 2}, res)
	assert.Equal(t, kept.PassageIDs, f.storedIDs(t))
	assert.Equal(t, kept.PassageIDs, f.vector.PassageIDs())

	// And: deleting again is a no-op
	res, err = f.indexer.DeleteDocument(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, res.ChunksDeleted)
}

func TestIndexer_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDocument(t, 1, "")
	f.saveDocument(t, 2, "")
	_, err := f.indexer.IndexDocument(ctx, Request{DocumentID: 1, Content: clinicalNote})
	require.NoError(t, err)

	stats, err := f.indexer.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 2, stats.Passages)
	assert.Equal(t, 2, stats.Vector.TotalVectors)
	assert.Equal(t, testDims, stats.Vector.Dimension)
}

func TestNewIndexer_NilDependencies(t *testing.T) {
	f := newFixture(t)
	c, err := chunk.NewSectionChunker(chunk.DefaultOptions())
	require.NoError(t, err)

	tests := []struct {
		name string
		deps Dependencies
	}{
		{"store", Dependencies{Vector: f.vector, Embedder: f.embedder, Chunker: c}},
		{"vector", Dependencies{Store: f.store, Embedder: f.embedder, Chunker: c}},
		{"embedder", Dependencies{Store: f.store, Vector: f.vector, Chunker: c}},
		{"chunker", Dependencies{Store: f.store, Vector: f.vector, Embedder: f.embedder}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndexer(tt.deps)
			assert.ErrorIs(t, err, ErrNilDependency)
		})
	}
}
