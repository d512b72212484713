package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/manual-retrieval/api/middleware"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/service/document"
	"github.com/feichai0017/manual-retrieval/internal/store"
	"github.com/feichai0017/manual-retrieval/pkg/converters"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

// multipart framing allowance on top of the file itself
const formOverhead = 1 << 20

type DocumentHandler struct {
	service       document.DocumentProcessor
	converter     converters.DocumentConverter
	logger        logger.Logger
	maxUploadSize int64
}

// ErrorResponse is the body of every non-ingest error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

type ingestBody struct {
	DocumentID    string         `json:"documentId"`
	ExtractedText string         `json:"extractedText"`
	Metadata      map[string]any `json:"metadata"`
}

// IngestResponse reports a finished (or, with async, accepted) ingestion run.
type IngestResponse struct {
	Success         bool   `json:"success"`
	DocumentID      string `json:"documentId,omitempty"`
	ChunksProcessed int    `json:"chunksProcessed"`
	Queued          bool   `json:"queued,omitempty"`
	Error           string `json:"error,omitempty"`
}

type listResponse struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total"`
}

func NewDocumentHandler(service document.DocumentProcessor, converter converters.DocumentConverter, log logger.Logger, maxUploadSize int64) *DocumentHandler {
	return &DocumentHandler{
		service:       service,
		converter:     converter,
		logger:        log.Named("documents"),
		maxUploadSize: maxUploadSize,
	}
}

// Upload stores a manual and registers it as pending.
func (h *DocumentHandler) Upload(c *gin.Context) {
	h.limitBody(c)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	doc, err := h.service.Upload(c.Request.Context(), middleware.OwnerID(c), &document.UploadRequest{
		Title:    c.PostForm("title"),
		Category: c.PostForm("category"),
		FileName: header.Filename,
		Body:     file,
	})
	if err != nil {
		h.handleServiceError(c, "Failed to upload document", err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// List returns the caller's documents, newest first.
func (h *DocumentHandler) List(c *gin.Context) {
	var filter store.ListFilter
	if s := c.Query("status"); s != "" {
		status, err := models.ParseStatus(s)
		if err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid status", err)
			return
		}
		filter.Status = status
	}
	if s := c.Query("category"); s != "" {
		category, err := models.ParseCategory(s)
		if err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid category", err)
			return
		}
		filter.Category = category
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	docs, err := h.service.List(c.Request.Context(), middleware.OwnerID(c), filter)
	if err != nil {
		h.handleServiceError(c, "Failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Documents: docs, Total: len(docs)})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, "Failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		h.handleServiceError(c, "Failed to delete document", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Ingest runs extraction, chunking and embedding for an uploaded document.
// With ?async=true the run is queued and 202 is returned.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var body ingestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ingestError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req := &document.IngestRequest{
		DocumentID:    body.DocumentID,
		ExtractedText: body.ExtractedText,
		Metadata:      body.Metadata,
	}
	ctx := c.Request.Context()
	owner := middleware.OwnerID(c)

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if err := h.service.IngestAsync(ctx, owner, req); err != nil {
			status, msg := ingestStatus(err)
			h.ingestError(c, status, msg, err)
			return
		}
		c.JSON(http.StatusAccepted, IngestResponse{Success: true, DocumentID: body.DocumentID, Queued: true})
		return
	}

	res, err := h.service.Ingest(ctx, owner, req)
	if err != nil {
		status, msg := ingestStatus(err)
		h.ingestError(c, status, msg, err)
		return
	}
	c.JSON(http.StatusOK, IngestResponse{
		Success:         true,
		DocumentID:      res.DocumentID,
		ChunksProcessed: res.ChunksProcessed,
	})
}

// Extract returns the text of an uploaded PDF without storing anything.
func (h *DocumentHandler) Extract(c *gin.Context) {
	h.limitBody(c)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}

	res, err := h.service.Extract(c.Request.Context(), header.Filename, data)
	if err != nil {
		if errors.Is(err, document.ErrInvalidInput) {
			h.handleError(c, http.StatusBadRequest, "Invalid file", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to process PDF", err)
		return
	}

	out, err := h.converter.Convert(res)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to process PDF", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *DocumentHandler) limitBody(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+formOverhead)
	}
}

func ingestStatus(err error) (int, string) {
	switch {
	case errors.Is(err, document.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, document.ErrNotEligible):
		return http.StatusConflict, "Document is already processing or processed"
	case errors.Is(err, document.ErrQueueDisabled):
		return http.StatusServiceUnavailable, "Async ingestion is not available"
	default:
		return http.StatusInternalServerError, "Ingestion failed"
	}
}

func (h *DocumentHandler) ingestError(c *gin.Context, status int, message string, err error) {
	h.log(c, status, message, err)
	c.JSON(status, IngestResponse{Success: false, Error: message})
}

func (h *DocumentHandler) handleServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, document.ErrInvalidInput):
		h.handleError(c, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, document.ErrNotFound):
		h.handleError(c, http.StatusNotFound, "Document not found", err)
	default:
		h.handleError(c, http.StatusInternalServerError, message, err)
	}
}

// handleError logs err and responds with a generic message. Client errors
// carry the validation details, server errors never do.
func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.log(c, status, message, err)
	c.JSON(status, errorResponse(status, message, err))
}

func (h *DocumentHandler) log(c *gin.Context, status int, message string, err error) {
	l := logger.FromContext(c.Request.Context(), h.logger)
	fields := []logger.Field{logger.String("path", c.Request.URL.Path), logger.Error(err)}
	if status >= http.StatusInternalServerError {
		l.Error(message, fields...)
	} else {
		l.Warn(message, fields...)
	}
}

func errorResponse(status int, message string, err error) ErrorResponse {
	resp := ErrorResponse{
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case status >= http.StatusInternalServerError:
		resp.Details = "An internal error occurred"
	case err != nil:
		resp.Details = err.Error()
	}
	return resp
}

func queryInt(c *gin.Context, key string) (int, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
