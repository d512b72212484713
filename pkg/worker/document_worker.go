package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/manual-retrieval/internal/service/document"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/queue"
)

// Ingester is the part of the document service the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, ownerID string, req *document.IngestRequest) (*document.IngestResult, error)
}

type DocumentWorker struct {
	BaseWorker
	docService Ingester
}

func NewDocumentWorker(cfg *Config, docService Ingester, log logger.Logger) *DocumentWorker {
	w := &DocumentWorker{
		BaseWorker: newBaseWorker(cfg, log),
		docService: docService,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w
}

func (w *DocumentWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeDocumentIngest, w.handleDocumentIngest)
}

// handleDocumentIngest never asks asynq to retry: a failed run leaves the
// document failed, and a document that is not pending cannot be claimed again.
func (w *DocumentWorker) handleDocumentIngest(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseIngestPayload(t)
	if err != nil {
		w.logger.Error("Invalid ingest task", logger.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	ctx = logger.WithOwnerID(ctx, p.OwnerID)
	if p.RequestID != "" {
		ctx = logger.WithRequestID(ctx, p.RequestID)
	}
	log := logger.FromContext(ctx, w.logger).With(logger.String("document_id", p.DocumentID))
	log.Info("Processing ingest task")

	req := &document.IngestRequest{
		DocumentID:    p.DocumentID,
		ExtractedText: p.ExtractedText,
	}
	if p.PageCount > 0 {
		req.Metadata = map[string]any{"pages": p.PageCount}
	}
	res, err := w.docService.Ingest(ctx, p.OwnerID, req)
	if err != nil {
		log.Error("Ingest task failed", logger.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log.Info("Ingest task completed", logger.Int("chunks", res.ChunksProcessed))
	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write([]byte(fmt.Sprintf(`{"chunksProcessed":%d}`, res.ChunksProcessed))); err != nil {
			log.Warn("Failed to write task result", logger.Error(err))
		}
	}
	return nil
}
