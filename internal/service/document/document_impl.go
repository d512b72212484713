package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	agentdoc "github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/internal/chunker"
	"github.com/feichai0017/manual-retrieval/internal/embedding"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
	"github.com/feichai0017/manual-retrieval/internal/utils/validator"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/queue"
	"github.com/feichai0017/manual-retrieval/pkg/storage"
)

type DocumentService struct {
	store     store.Store
	storage   storage.Storage
	extractor Extractor
	embedder  embedding.Embedder
	queue     queue.Queue
	validator *validator.DocumentValidator
	logger    logger.Logger
	config    *ServiceConfig
}

var _ DocumentProcessor = (*DocumentService)(nil)

type ServiceConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ChunkSize:    chunker.DefaultChunkSize,
		ChunkOverlap: chunker.DefaultChunkOverlap,
		MaxFileSize:  50 * 1024 * 1024, // 50MB
	}
}

// NewService wires the pipeline. q may be nil, which disables IngestAsync.
func NewService(
	st store.Store,
	blobs storage.Storage,
	extractor Extractor,
	embedder embedding.Embedder,
	q queue.Queue,
	log logger.Logger,
	cfg *ServiceConfig,
) *DocumentService {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	vcfg := validator.DefaultConfig()
	vcfg.MaxFileSize = cfg.MaxFileSize

	return &DocumentService{
		store:     st,
		storage:   blobs,
		extractor: extractor,
		embedder:  embedder,
		queue:     q,
		validator: validator.NewDocumentValidator(log, vcfg),
		logger:    log.Named("document"),
		config:    cfg,
	}
}

// Upload validates the PDF, stores it under the owner's prefix and records a
// pending document.
func (s *DocumentService) Upload(ctx context.Context, ownerID string, req *UploadRequest) (*models.Document, error) {
	if req == nil || req.Body == nil {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, s.config.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, err)
	}
	fileName := filepath.Base(req.FileName)
	if err := s.validator.ValidateFile(fileName, data).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}

	doc := &models.Document{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Title:    title,
		FileName: fileName,
		FileSize: int64(len(data)),
		Category: category,
		Status:   models.StatusPending,
	}
	doc.StoragePath = storage.ObjectKey(ownerID, doc.ID, fileName)

	log := logger.FromContext(ctx, s.logger)
	if _, err := s.storage.Store(ctx, bytes.NewReader(data), doc.StoragePath); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.Delete(ctx, doc.StoragePath); derr != nil {
			log.Warn("Failed to remove orphaned file", logger.String("key", doc.StoragePath), logger.Error(derr))
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	log.Info("Document uploaded",
		logger.String("document_id", doc.ID),
		logger.String("category", string(doc.Category)),
		logger.Int64("size", doc.FileSize),
	)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, ownerID, id string) (*models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	doc, err := s.store.GetDocument(ctx, ownerID, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return doc, nil
}

// List returns the owner's documents, newest first.
func (s *DocumentService) List(ctx context.Context, ownerID string, filter store.ListFilter) ([]models.Document, error) {
	docs, err := s.store.ListDocuments(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Delete removes the document, its chunks and its stored file. A file that
// cannot be removed is logged and left behind.
func (s *DocumentService) Delete(ctx context.Context, ownerID, id string) error {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, ownerID, id); err != nil {
		return mapStoreError(err)
	}

	log := logger.FromContext(ctx, s.logger).With(logger.String("document_id", id))
	if err := s.storage.DeletePrefix(ctx, storage.DocumentPrefix(ownerID, doc.ID)); err != nil {
		log.Warn("Failed to delete stored file", logger.Error(err))
	}
	log.Info("Document deleted")
	return nil
}

// Extract runs text extraction on an uploaded PDF without storing anything.
func (s *DocumentService) Extract(ctx context.Context, fileName string, data []byte) (*agentdoc.Result, error) {
	fileName = filepath.Base(fileName)
	if err := s.validator.ValidateFile(fileName, data).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.extractor.Extract(ctx, data, strings.TrimSuffix(fileName, filepath.Ext(fileName)))
}

// Ingest claims the document and runs extraction, chunking and embedding to
// completion. The run is detached from ctx cancellation. Any failure after
// the claim leaves the document failed with no chunks.
func (s *DocumentService) Ingest(ctx context.Context, ownerID string, req *IngestRequest) (*IngestResult, error) {
	if err := validateIngest(req); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx, s.logger).With(logger.String("document_id", req.DocumentID))

	doc, err := s.eligible(ctx, ownerID, req.DocumentID)
	if err != nil {
		return nil, err
	}
	claimed, err := s.store.ClaimForProcessing(ctx, ownerID, doc.ID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: claimed by another run", ErrNotEligible)
	}

	start := time.Now()
	log.Info("Ingestion started")
	res, err := s.run(ctx, log, doc, req)
	if err != nil {
		s.fail(ctx, log, doc, err)
		return nil, fmt.Errorf("ingestion failed: %w", err)
	}

	log.Info("Ingestion completed",
		logger.Int("chunks", res.ChunksProcessed),
		logger.Int("pages", res.PageCount),
		logger.String("method", string(res.Method)),
		logger.Duration("took", time.Since(start)),
	)
	return res, nil
}

// IngestAsync checks eligibility and queues the run for a worker. The worker
// still claims the document before doing any work.
func (s *DocumentService) IngestAsync(ctx context.Context, ownerID string, req *IngestRequest) error {
	if s.queue == nil {
		return ErrQueueDisabled
	}
	if err := validateIngest(req); err != nil {
		return err
	}
	if _, err := s.eligible(ctx, ownerID, req.DocumentID); err != nil {
		return err
	}

	err := s.queue.EnqueueIngest(ctx, &queue.IngestPayload{
		OwnerID:       ownerID,
		DocumentID:    req.DocumentID,
		ExtractedText: req.ExtractedText,
		PageCount:     metadataPages(req.Metadata),
		RequestID:     logger.RequestID(ctx),
	})
	switch {
	case errors.Is(err, queue.ErrDuplicateTask):
		return fmt.Errorf("%w: already queued", ErrNotEligible)
	case err != nil:
		return fmt.Errorf("failed to enqueue ingestion: %w", err)
	}

	logger.FromContext(ctx, s.logger).Info("Ingestion queued", logger.String("document_id", req.DocumentID))
	return nil
}

func validateIngest(req *IngestRequest) error {
	if req == nil || strings.TrimSpace(req.DocumentID) == "" {
		return fmt.Errorf("%w: documentId is required", ErrInvalidInput)
	}
	if _, err := uuid.Parse(req.DocumentID); err != nil {
		return fmt.Errorf("%w: documentId must be a uuid", ErrInvalidInput)
	}
	return nil
}

// eligible loads the document and rejects any status other than pending.
func (s *DocumentService) eligible(ctx context.Context, ownerID, id string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, ownerID, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	switch doc.Status {
	case models.StatusPending:
		return doc, nil
	case models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
		return nil, fmt.Errorf("%w: status is %s", ErrNotEligible, doc.Status)
	default:
		return nil, fmt.Errorf("document %s has unhandled status %q", doc.ID, doc.Status)
	}
}

func (s *DocumentService) run(ctx context.Context, log logger.Logger, doc *models.Document, req *IngestRequest) (*IngestResult, error) {
	if n, err := s.store.PurgeChunks(ctx, doc.OwnerID, doc.ID); err != nil {
		return nil, fmt.Errorf("purge prior chunks: %w", err)
	} else if n > 0 {
		log.Info("Purged chunks of an earlier run", logger.Int64("chunks", n))
	}

	text, pages, method, err := s.source(ctx, doc, req)
	if err != nil {
		return nil, err
	}

	pieces, err := chunker.Chunk(text, s.config.ChunkSize, s.config.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	if len(pieces) == 0 {
		return nil, errors.New("no text to index")
	}
	log.Debug("Document chunked", logger.Int("chunks", len(pieces)))

	for _, p := range pieces {
		vec, err := s.embedder.EmbedQuery(ctx, p.Content)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", p.Index, err)
		}
		err = s.store.InsertChunk(ctx, &models.DocumentChunk{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			ChunkIndex: p.Index,
			Content:    p.Content,
			PageNumber: p.PageNumber,
			Section:    p.Section,
			Embedding:  vec,
		})
		if err != nil {
			return nil, fmt.Errorf("store chunk %d: %w", p.Index, err)
		}
	}

	err = s.store.CompleteDocument(ctx, doc.OwnerID, doc.ID, store.Completion{
		TotalChunks: len(pieces),
		PageCount:   pages,
		Method:      method,
	})
	if err != nil {
		return nil, fmt.Errorf("complete document: %w", err)
	}

	return &IngestResult{
		DocumentID:      doc.ID,
		ChunksProcessed: len(pieces),
		PageCount:       pages,
		Method:          method,
	}, nil
}

// source returns the text to chunk: the caller's text when given, otherwise
// the stored file run through the extractor.
func (s *DocumentService) source(ctx context.Context, doc *models.Document, req *IngestRequest) (string, int, models.ProcessingMethod, error) {
	if text := strings.TrimSpace(req.ExtractedText); text != "" {
		return text, metadataPages(req.Metadata), models.MethodText, nil
	}

	rc, err := s.storage.Get(ctx, doc.StoragePath)
	if err != nil {
		return "", 0, "", fmt.Errorf("read stored file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", 0, "", fmt.Errorf("read stored file: %w", err)
	}

	res, err := s.extractor.Extract(ctx, data, doc.Title)
	if err != nil {
		return "", 0, "", fmt.Errorf("extract: %w", err)
	}
	return res.Text, res.PageCount, res.Method, nil
}

// fail marks the document failed and drops the chunks of this run. Both
// writes are best effort.
func (s *DocumentService) fail(ctx context.Context, log logger.Logger, doc *models.Document, cause error) {
	log.Error("Ingestion failed", logger.Error(cause))

	if err := s.store.FailDocument(ctx, doc.OwnerID, doc.ID, cause.Error()); err != nil {
		log.Error("Failed to mark document failed", logger.Error(err))
	}
	n, err := s.store.PurgeChunks(ctx, doc.OwnerID, doc.ID)
	if err != nil {
		log.Error("Failed to purge partial chunks", logger.Error(err))
		return
	}
	if n > 0 {
		log.Info("Purged partial chunks", logger.Int64("chunks", n))
	}
}

// metadataPages reads metadata.pages as decoded from JSON.
func metadataPages(md map[string]any) int {
	switch v := md["pages"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrStateConflict):
		return fmt.Errorf("%w: %v", ErrNotEligible, err)
	default:
		return err
	}
}
