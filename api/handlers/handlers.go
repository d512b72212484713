package handlers

import (
	"github.com/feichai0017/manual-retrieval/internal/service/document"
	"github.com/feichai0017/manual-retrieval/pkg/converters"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Search   *SearchHandler
}

func NewHandlers(
	documentService document.DocumentProcessor,
	searcher Searcher,
	logger logger.Logger,
	maxUploadSize int64,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, converters.NewJSONConverter(), logger, maxUploadSize),
		Search:   NewSearchHandler(searcher, logger),
	}
}
