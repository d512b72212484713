package gormstore

import (
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/feichai0017/manual-retrieval/internal/models"
)

type documentRow struct {
	ID               string                  `gorm:"primaryKey;size:36"`
	OwnerID          string                  `gorm:"not null;index:idx_documents_owner_created,priority:1"`
	Title            string                  `gorm:"not null"`
	FileName         string                  `gorm:"not null"`
	StoragePath      string                  `gorm:"not null"`
	FileSize         int64                   `gorm:"not null;default:0"`
	Category         models.Category         `gorm:"not null;index"`
	Status           models.ProcessingStatus `gorm:"not null;default:pending;index"`
	TotalChunks      int                     `gorm:"not null;default:0"`
	PageCount        int                     `gorm:"not null;default:0"`
	ProcessingMethod models.ProcessingMethod `gorm:"not null;default:''"`
	ErrorMessage     string                  `gorm:"not null;default:''"`
	CreatedAt        time.Time               `gorm:"not null;index:idx_documents_owner_created,priority:2"`
	UpdatedAt        time.Time               `gorm:"not null"`
}

func (documentRow) TableName() string { return "documents" }

type chunkRow struct {
	ID         string           `gorm:"primaryKey;size:36"`
	DocumentID string           `gorm:"not null;size:36;uniqueIndex:idx_chunks_document_index,priority:1"`
	OwnerID    string           `gorm:"not null;index"`
	ChunkIndex int              `gorm:"not null;uniqueIndex:idx_chunks_document_index,priority:2"`
	Content    string           `gorm:"not null"`
	PageNumber *int             `gorm:"column:page_number"`
	Section    *string          `gorm:"column:section"`
	Embedding  *pgvector.Vector `gorm:"column:embedding"`
	CreatedAt  time.Time        `gorm:"not null"`
}

func (chunkRow) TableName() string { return "document_chunks" }

// resultRow is the projection shared by vector and lexical search.
type resultRow struct {
	DocumentID string
	ChunkIndex int
	Content    string
	PageNumber *int
	Section    *string
	Title      string
	Category   models.Category
	FileName   string
	Distance   float64
}

func toDocumentRow(d *models.Document) *documentRow {
	return &documentRow{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Title:            d.Title,
		FileName:         d.FileName,
		StoragePath:      d.StoragePath,
		FileSize:         d.FileSize,
		Category:         d.Category,
		Status:           d.Status,
		TotalChunks:      d.TotalChunks,
		PageCount:        d.PageCount,
		ProcessingMethod: d.ProcessingMethod,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (r *documentRow) toModel() models.Document {
	return models.Document{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Title:            r.Title,
		FileName:         r.FileName,
		StoragePath:      r.StoragePath,
		FileSize:         r.FileSize,
		Category:         r.Category,
		Status:           r.Status,
		TotalChunks:      r.TotalChunks,
		PageCount:        r.PageCount,
		ProcessingMethod: r.ProcessingMethod,
		ErrorMessage:     r.ErrorMessage,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r *chunkRow) toModel() models.DocumentChunk {
	c := models.DocumentChunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		OwnerID:    r.OwnerID,
		ChunkIndex: r.ChunkIndex,
		Content:    r.Content,
		PageNumber: r.PageNumber,
		Section:    r.Section,
		CreatedAt:  r.CreatedAt,
	}
	if r.Embedding != nil {
		c.Embedding = r.Embedding.Slice()
	}
	return c
}

func (r *resultRow) toModel(similarity float64) models.SearchResult {
	return models.SearchResult{
		DocumentID:    r.DocumentID,
		DocumentTitle: r.Title,
		Section:       r.Section,
		PageNumber:    r.PageNumber,
		Content:       r.Content,
		DocumentType:  r.Category,
		FileName:      r.FileName,
		Similarity:    similarity,
		Distance:      r.Distance,
		ChunkIndex:    r.ChunkIndex,
	}
}
