package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
)

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	return s.scoped(ctx, doc.OwnerID, func(tx *gorm.DB) error {
		if err := tx.Create(toDocumentRow(doc)).Error; err != nil {
			return mapError("create document", err)
		}
		return nil
	})
}

func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (*models.Document, error) {
	var row documentRow
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND owner_id = ?", id, ownerID).Take(&row).Error
	})
	if err != nil {
		return nil, mapError("get document", err)
	}
	doc := row.toModel()
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, ownerID string, f store.ListFilter) ([]models.Document, error) {
	var rows []documentRow
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		q := tx.Where("owner_id = ?", ownerID)
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}
		if f.Offset > 0 {
			q = q.Offset(f.Offset)
		}
		return q.Order("created_at DESC, id DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, mapError("list documents", err)
	}

	docs := make([]models.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toModel()
	}
	return docs, nil
}

func (s *Store) DeleteDocument(ctx context.Context, ownerID, id string) error {
	return s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ? AND owner_id = ?", id, ownerID).Delete(&chunkRow{}).Error; err != nil {
			return mapError("delete chunks", err)
		}
		res := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&documentRow{})
		if res.Error != nil {
			return mapError("delete document", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// ClaimForProcessing relies on the conditional update being atomic: of two
// concurrent claims exactly one sees a row affected.
func (s *Store) ClaimForProcessing(ctx context.Context, ownerID, id string) (bool, error) {
	claimed := false
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		res := tx.Model(&documentRow{}).
			Where("id = ? AND owner_id = ? AND status = ?", id, ownerID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":     models.StatusProcessing,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			claimed = true
			return nil
		}
		return s.mustExist(tx, ownerID, id)
	})
	if err != nil {
		return false, mapError("claim document", err)
	}
	return claimed, nil
}

func (s *Store) CompleteDocument(ctx context.Context, ownerID, id string, c store.Completion) error {
	return s.transition(ctx, ownerID, id, map[string]interface{}{
		"status":            models.StatusCompleted,
		"total_chunks":      c.TotalChunks,
		"page_count":        c.PageCount,
		"processing_method": c.Method,
		"error_message":     "",
	})
}

func (s *Store) FailDocument(ctx context.Context, ownerID, id, reason string) error {
	return s.transition(ctx, ownerID, id, map[string]interface{}{
		"status":        models.StatusFailed,
		"total_chunks":  0,
		"error_message": reason,
	})
}

// transition applies a terminal update to a processing document.
func (s *Store) transition(ctx context.Context, ownerID, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		res := tx.Model(&documentRow{}).
			Where("id = ? AND owner_id = ? AND status = ?", id, ownerID, models.StatusProcessing).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		if err := s.mustExist(tx, ownerID, id); err != nil {
			return err
		}
		return store.ErrStateConflict
	})
	if err != nil {
		return mapError(fmt.Sprintf("transition to %v", fields["status"]), err)
	}
	return nil
}

func (s *Store) mustExist(tx *gorm.DB, ownerID, id string) error {
	var n int64
	if err := tx.Model(&documentRow{}).Where("id = ? AND owner_id = ?", id, ownerID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, store.ErrStateConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, store.ErrStateConflict)
	case errors.Is(err, store.ErrRankingUnavailable):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
