package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/manual-retrieval/api/middleware"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/service/retrieval"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

// Searcher is satisfied by *retrieval.Engine.
type Searcher interface {
	Search(ctx context.Context, ownerID string, q retrieval.Query) (*retrieval.Response, error)
}

type SearchHandler struct {
	searcher Searcher
	logger   logger.Logger
}

type searchBody struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	DocumentTypes []string `json:"documentTypes"`
}

type SearchResponse struct {
	Results []models.SearchResult `json:"results"`
	Query   string                `json:"query"`
	Total   int                   `json:"total"`
}

func NewSearchHandler(searcher Searcher, log logger.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: log.Named("search")}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	q := retrieval.Query{Text: body.Query, Limit: body.Limit}
	for _, t := range body.DocumentTypes {
		category, err := models.ParseCategory(t)
		if err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid document type", err)
			return
		}
		q.Categories = append(q.Categories, category)
	}

	resp, err := h.searcher.Search(c.Request.Context(), middleware.OwnerID(c), q)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			h.handleError(c, http.StatusBadRequest, "Query is required", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, SearchResponse{
		Results: resp.Results,
		Query:   body.Query,
		Total:   len(resp.Results),
	})
}

func (h *SearchHandler) handleError(c *gin.Context, status int, message string, err error) {
	l := logger.FromContext(c.Request.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		l.Error(message, logger.Error(err))
	} else {
		l.Warn(message, logger.Error(err))
	}
	c.JSON(status, errorResponse(status, message, err))
}
