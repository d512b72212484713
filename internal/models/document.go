package models

import (
	"fmt"
	"strings"
	"time"
)

// Category 手册类别
type Category string

const (
	CategoryFCOM     Category = "FCOM"
	CategoryQRH      Category = "QRH"
	CategoryTraining Category = "TRAINING"
	CategoryMEL      Category = "MEL"
	CategoryAFM      Category = "AFM"
	CategoryOther    Category = "OTHER"
)

var categories = []Category{
	CategoryFCOM,
	CategoryQRH,
	CategoryTraining,
	CategoryMEL,
	CategoryAFM,
	CategoryOther,
}

// Categories returns every known category in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory accepts the canonical names case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown document category: %q", s)
}

// ProcessingStatus 文档处理状态
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ParseStatus rejects anything outside the closed set of statuses.
func ParseStatus(s string) (ProcessingStatus, error) {
	switch ProcessingStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return ProcessingStatus(s), nil
	default:
		return "", fmt.Errorf("unknown processing status: %q", s)
	}
}

// ProcessingMethod records how the text of a document was obtained.
type ProcessingMethod string

const (
	MethodText   ProcessingMethod = "text"
	MethodOCR    ProcessingMethod = "ocr"
	MethodHybrid ProcessingMethod = "hybrid"
)

// Document 上传的手册
type Document struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	Title            string           `json:"title"`
	FileName         string           `json:"fileName"`
	StoragePath      string           `json:"storagePath"`
	FileSize         int64            `json:"fileSize"`
	Category         Category         `json:"category"`
	Status           ProcessingStatus `json:"status"`
	TotalChunks      int              `json:"totalChunks"`
	PageCount        int              `json:"pageCount"`
	ProcessingMethod ProcessingMethod `json:"processingMethod,omitempty"`
	ErrorMessage     string           `json:"-"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// DocumentChunk 文档块
type DocumentChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	OwnerID    string    `json:"-"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	PageNumber *int      `json:"pageNumber,omitempty"`
	Section    *string   `json:"section,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SearchResult is a chunk joined with its parent document. Not persisted.
type SearchResult struct {
	DocumentID    string   `json:"documentId"`
	DocumentTitle string   `json:"document_title"`
	Section       *string  `json:"section_title"`
	PageNumber    *int     `json:"page_number"`
	Content       string   `json:"content"`
	DocumentType  Category `json:"document_type"`
	FileName      string   `json:"file_name"`
	Similarity    float64  `json:"similarity"`
	Distance      float64  `json:"-"`
	ChunkIndex    int      `json:"-"`
}
