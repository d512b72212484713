package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
)

func seedDoc(t *testing.T, s *Store, owner string, cat models.Category, status models.ProcessingStatus) *models.Document {
	t.Helper()
	d := &models.Document{OwnerID: owner, Title: string(cat) + " manual", FileName: "m.pdf", Category: cat, Status: models.StatusPending}
	require.NoError(t, s.CreateDocument(context.Background(), d))
	if status == models.StatusPending {
		return d
	}
	ok, err := s.ClaimForProcessing(context.Background(), owner, d.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func addChunk(t *testing.T, s *Store, d *models.Document, idx int, content string, vec []float32) {
	t.Helper()
	require.NoError(t, s.InsertChunk(context.Background(), &models.DocumentChunk{
		DocumentID: d.ID,
		OwnerID:    d.OwnerID,
		ChunkIndex: idx,
		Content:    content,
		Embedding:  vec,
	}))
}

func TestClaimIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusPending)

	ok, err := s.ClaimForProcessing(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimForProcessing(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	_, err = s.ClaimForProcessing(ctx, "mallory", d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTerminalTransitionsRequireProcessing(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusPending)

	assert.ErrorIs(t, s.CompleteDocument(ctx, "alice", d.ID, store.Completion{TotalChunks: 1}), store.ErrStateConflict)

	_, err := s.ClaimForProcessing(ctx, "alice", d.ID)
	require.NoError(t, err)
	require.NoError(t, s.FailDocument(ctx, "alice", d.ID, "embedding provider down"))

	got, err := s.GetDocument(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Zero(t, got.TotalChunks)

	assert.ErrorIs(t, s.CompleteDocument(ctx, "alice", d.ID, store.Completion{TotalChunks: 3}), store.ErrStateConflict)
	ok, err := s.ClaimForProcessing(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.False(t, ok, "failed is terminal")
}

func TestOwnerIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusProcessing)
	addChunk(t, s, d, 0, "engine fire", []float32{1, 0})
	require.NoError(t, s.CompleteDocument(ctx, "alice", d.ID, store.Completion{TotalChunks: 1}))

	_, err := s.GetDocument(ctx, "bob", d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "bob", d.ID), store.ErrNotFound)

	err = s.InsertChunk(ctx, &models.DocumentChunk{DocumentID: d.ID, OwnerID: "bob", ChunkIndex: 1, Content: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err := s.RankChunks(ctx, "bob", store.ChunkQuery{Embedding: []float32{1, 0}, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, res)

	docs, err := s.ListDocuments(ctx, "bob", store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRankChunksOrderingAndFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	qrh := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusProcessing)
	addChunk(t, s, qrh, 0, "far", []float32{0, 1})
	addChunk(t, s, qrh, 1, "near", []float32{1, 0.1})
	addChunk(t, s, qrh, 2, "exact", []float32{1, 0})
	require.NoError(t, s.CompleteDocument(ctx, "alice", qrh.ID, store.Completion{TotalChunks: 3}))

	mel := seedDoc(t, s, "alice", models.CategoryMEL, models.StatusProcessing)
	addChunk(t, s, mel, 0, "mel exact", []float32{2, 0})
	require.NoError(t, s.CompleteDocument(ctx, "alice", mel.ID, store.Completion{TotalChunks: 1}))

	pending := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusProcessing)
	addChunk(t, s, pending, 0, "still processing", []float32{1, 0})

	res, err := s.RankChunks(ctx, "alice", store.ChunkQuery{
		Embedding:  []float32{1, 0},
		Categories: []models.Category{models.CategoryQRH},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"exact", "near", "far"}, []string{res[0].Content, res[1].Content, res[2].Content})
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-9)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
	}

	// equal distances fall back to chunk index
	all, err := s.RankChunks(ctx, "alice", store.ChunkQuery{Embedding: []float32{1, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mel exact", all[0].Content)
	assert.Equal(t, "exact", all[1].Content)
}

func TestRankChunksUnavailable(t *testing.T) {
	s := New(WithoutVectorRanking())
	_, err := s.RankChunks(context.Background(), "alice", store.ChunkQuery{Embedding: []float32{1}})
	assert.ErrorIs(t, err, store.ErrRankingUnavailable)
}

func TestLexicalChunks(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := seedDoc(t, s, "alice", models.CategoryFCOM, models.StatusProcessing)
	addChunk(t, s, d, 0, "ENGINE FIRE ON GROUND: thrust levers idle", nil)
	addChunk(t, s, d, 1, "Engine relight in flight", nil)
	require.NoError(t, s.CompleteDocument(ctx, "alice", d.ID, store.Completion{TotalChunks: 2}))

	res, err := s.LexicalChunks(ctx, "alice", store.ChunkQuery{Text: "engine fire", Limit: 5})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 0, res[0].ChunkIndex)

	res, err = s.LexicalChunks(ctx, "alice", store.ChunkQuery{Text: "engine", Limit: 5, Categories: []models.Category{models.CategoryQRH}})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestPurgeAndDeleteCascade(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := seedDoc(t, s, "alice", models.CategoryQRH, models.StatusProcessing)
	addChunk(t, s, d, 0, "a", []float32{1})
	addChunk(t, s, d, 1, "b", []float32{1})

	assert.ErrorIs(t, s.InsertChunk(ctx, &models.DocumentChunk{DocumentID: d.ID, OwnerID: "alice", ChunkIndex: 1, Content: "dup"}), store.ErrStateConflict)

	n, err := s.PurgeChunks(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	addChunk(t, s, d, 0, "again", []float32{1})
	require.NoError(t, s.DeleteDocument(ctx, "alice", d.ID))
	_, err = s.ListChunks(ctx, "alice", d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
