package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intp(v int) *int { return &v }

// TS01: Documents round-trip with metadata
func TestSQLiteStore_SaveAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a saved document
	doc := &Document{ID: 1, Title: "Consultation", Content: "ANAMNÈSE: fever", Metadata: map[string]any{"ward": "B"}}
	require.NoError(t, s.SaveDocument(ctx, doc))

	// When: reading it back
	got, err := s.GetDocument(ctx, 1)

	// Then: fields survive
	require.NoError(t, err)
	assert.Equal(t, "Consultation", got.Title)
	assert.Equal(t, "ANAMNÈSE: fever", got.Content)
	assert.Equal(t, "B", got.Metadata["ward"])
	assert.False(t, got.CreatedAt.IsZero())

	// And: saving again updates in place
	doc.Content = "DIAGNOSTIC: flu"
	require.NoError(t, s.SaveDocument(ctx, doc))
	got, err = s.GetDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "DIAGNOSTIC: flu", got.Content)

	n, err := s.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_GetDocumentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), 404)

	assert.ErrorIs(t, err, ErrNotFound)
}

// TS02: Passages get ids and keep position order
func TestSQLiteStore_CreateAndListPassages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 1}))

	passages := []*Passage{
		{DocumentID: 1, Text: "second", Position: 1, SectionType: "diagnostic"},
		{DocumentID: 1, Text: "first", Position: 0, SectionType: "anamnese", TokenStart: intp(0), TokenEnd: intp(12)},
	}
	require.NoError(t, s.CreatePassages(ctx, passages))
	assert.NotZero(t, passages[0].ID)
	assert.NotZero(t, passages[1].ID)
	assert.NotEqual(t, passages[0].ID, passages[1].ID)

	listed, err := s.ListPassagesByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "first", listed[0].Text)
	require.NotNil(t, listed[0].TokenStart)
	assert.Equal(t, 12, *listed[0].TokenEnd)
	assert.Nil(t, listed[1].TokenStart)

	all, err := s.ListPassages(ctx)
	require.NoError(t, err)
	assert.Equal(t, passages[0].ID, all[0].ID, "corpus order is insertion order")
}

// TS03: Replace swaps a document's passages atomically
func TestSQLiteStore_ReplacePassages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 1}))
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 2}))
	require.NoError(t, s.CreatePassages(ctx, []*Passage{
		{DocumentID: 1, Text: "old a", Position: 0, SectionType: "general"},
		{DocumentID: 1, Text: "old b", Position: 1, SectionType: "general"},
		{DocumentID: 2, Text: "other", Position: 0, SectionType: "general"},
	}))

	// When: replacing document 1
	fresh := []*Passage{{Text: "new", Position: 0, SectionType: "examen"}}
	deleted, err := s.ReplacePassages(ctx, 1, fresh)

	// Then: only the new passage remains for document 1
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, int64(1), fresh[0].DocumentID)

	listed, err := s.ListPassagesByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "new", listed[0].Text)

	n, err := s.CountPassages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_ReplacePassagesRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 1}))
	require.NoError(t, s.CreatePassages(ctx, []*Passage{{DocumentID: 1, Text: "kept", SectionType: "general"}}))

	// When: the new metadata cannot be encoded
	_, err := s.ReplacePassages(ctx, 1, []*Passage{{Text: "bad", Metadata: map[string]any{"ch": make(chan int)}}})

	// Then: the old passage is untouched
	require.Error(t, err)
	listed, err := s.ListPassagesByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "kept", listed[0].Text)
}

func TestSQLiteStore_GetPassages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 1}))
	passages := []*Passage{
		{DocumentID: 1, Text: "a", SectionType: "general", Metadata: map[string]any{"chunk_index": 0}},
		{DocumentID: 1, Text: "b", Position: 1, SectionType: "general"},
	}
	require.NoError(t, s.CreatePassages(ctx, passages))

	got, err := s.GetPassages(ctx, []int64{passages[0].ID, passages[1].ID, 9999})

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[passages[0].ID].Text)
	assert.EqualValues(t, 0, got[passages[0].ID].Metadata["chunk_index"])

	one, err := s.GetPassage(ctx, passages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "b", one.Text)

	_, err = s.GetPassage(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeletePassagesByDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 1}))
	require.NoError(t, s.CreatePassages(ctx, []*Passage{
		{DocumentID: 1, Text: "a", SectionType: "general"},
		{DocumentID: 1, Text: "b", Position: 1, SectionType: "general"},
	}))

	n, err := s.DeletePassagesByDocument(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeletePassagesByDocument(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_PassageRequiresDocument(t *testing.T) {
	s := newTestStore(t)

	err := s.CreatePassages(context.Background(), []*Passage{{DocumentID: 77, Text: "orphan", SectionType: "general"}})

	assert.Error(t, err, "foreign keys are enforced")
}

func TestSQLiteStore_FileBackedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "docqa.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: 5, Content: "persisted"}))
	require.NoError(t, s.Close())

	// When: reopening runs migrations again
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	// Then: data is still there
	doc, err := s.GetDocument(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "persisted", doc.Content)
	assert.Equal(t, path, s.Path())
}
