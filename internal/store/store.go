// Package store defines persistence for documents and their embedded chunks.
// Every operation is scoped to an owner; implementations must never return
// or modify rows belonging to another owner.
package store

import (
	"context"
	"errors"
	"math"

	"github.com/feichai0017/manual-retrieval/internal/models"
)

var (
	// ErrNotFound means no document with that id exists for the owner.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict means a status transition did not apply because the
	// document was not in the expected state.
	ErrStateConflict = errors.New("document state conflict")
	// ErrRankingUnavailable means the backend cannot rank by vector distance,
	// e.g. the pgvector extension is missing. Callers may fall back to
	// LexicalChunks.
	ErrRankingUnavailable = errors.New("vector ranking unavailable")
)

// Completion is recorded together with the completed status.
type Completion struct {
	TotalChunks int
	PageCount   int
	Method      models.ProcessingMethod
}

// ListFilter narrows ListDocuments. Zero values mean no filter.
type ListFilter struct {
	Status   models.ProcessingStatus
	Category models.Category
	Limit    int
	Offset   int
}

// ChunkQuery selects chunks of completed documents.
type ChunkQuery struct {
	Embedding  []float32
	Text       string
	Categories []models.Category
	Limit      int
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ownerID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID string, filter ListFilter) ([]models.Document, error)
	// DeleteDocument removes the document and all its chunks.
	DeleteDocument(ctx context.Context, ownerID, id string) error

	// ClaimForProcessing atomically moves a pending document to processing.
	// It reports false when the document exists but is not pending.
	ClaimForProcessing(ctx context.Context, ownerID, id string) (bool, error)
	// CompleteDocument moves a processing document to completed.
	CompleteDocument(ctx context.Context, ownerID, id string, c Completion) error
	// FailDocument moves a processing document to failed and zeroes its chunk count.
	FailDocument(ctx context.Context, ownerID, id, reason string) error
}

type ChunkStore interface {
	InsertChunk(ctx context.Context, chunk *models.DocumentChunk) error
	// PurgeChunks deletes every chunk of a document and returns how many went.
	PurgeChunks(ctx context.Context, ownerID, documentID string) (int64, error)
	ListChunks(ctx context.Context, ownerID, documentID string) ([]models.DocumentChunk, error)

	// RankChunks orders chunks of completed documents by ascending cosine
	// distance to q.Embedding, then by chunk index, then insertion order.
	RankChunks(ctx context.Context, ownerID string, q ChunkQuery) ([]models.SearchResult, error)
	// LexicalChunks matches q.Text against chunk content.
	LexicalChunks(ctx context.Context, ownerID string, q ChunkQuery) ([]models.SearchResult, error)
}

type Store interface {
	DocumentStore
	ChunkStore
}

// CosineDistance returns 1 - cos(a, b). Mismatched or zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
