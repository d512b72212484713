// Package document owns the lifecycle of uploaded manuals: upload, the
// ingestion run that turns them into embedded chunks, and deletion.
package document

import (
	"context"
	"errors"
	"io"

	agentdoc "github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrNotEligible means the document is already processing or has reached
	// a terminal status.
	ErrNotEligible  = errors.New("document is not eligible for ingestion")
	ErrInvalidInput = errors.New("invalid input")
	// ErrQueueDisabled is returned by IngestAsync when no queue is configured.
	ErrQueueDisabled = errors.New("async ingestion is not configured")
)

type DocumentProcessor interface {
	Upload(ctx context.Context, ownerID string, req *UploadRequest) (*models.Document, error)
	Get(ctx context.Context, ownerID, id string) (*models.Document, error)
	List(ctx context.Context, ownerID string, filter store.ListFilter) ([]models.Document, error)
	Delete(ctx context.Context, ownerID, id string) error
	Ingest(ctx context.Context, ownerID string, req *IngestRequest) (*IngestResult, error)
	IngestAsync(ctx context.Context, ownerID string, req *IngestRequest) error
	Extract(ctx context.Context, fileName string, data []byte) (*agentdoc.Result, error)
}

// Extractor turns PDF bytes into page text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, title string) (*agentdoc.Result, error)
}

type UploadRequest struct {
	Title    string
	Category string
	FileName string
	Body     io.Reader
}

// IngestRequest starts a run. ExtractedText, when set, is chunked as is and
// the stored file is not read.
type IngestRequest struct {
	DocumentID    string
	ExtractedText string
	Metadata      map[string]any
}

type IngestResult struct {
	DocumentID      string                  `json:"documentId"`
	ChunksProcessed int                     `json:"chunksProcessed"`
	PageCount       int                     `json:"pageCount"`
	Method          models.ProcessingMethod `json:"processingMethod"`
}
