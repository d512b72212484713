package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
)

const resultColumns = "c.document_id, c.chunk_index, c.content, c.page_number, c.section, d.title, d.category, d.file_name"

func (s *Store) InsertChunk(ctx context.Context, c *models.DocumentChunk) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	row := &chunkRow{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		OwnerID:    c.OwnerID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		PageNumber: c.PageNumber,
		Section:    c.Section,
		CreatedAt:  c.CreatedAt,
	}
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		row.Embedding = &v
	}

	return s.scoped(ctx, c.OwnerID, func(tx *gorm.DB) error {
		if err := s.mustExist(tx, c.OwnerID, c.DocumentID); err != nil {
			return mapError("insert chunk", err)
		}
		if err := tx.Create(row).Error; err != nil {
			return mapError("insert chunk", err)
		}
		return nil
	})
}

func (s *Store) PurgeChunks(ctx context.Context, ownerID, documentID string) (int64, error) {
	var n int64
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		if err := s.mustExist(tx, ownerID, documentID); err != nil {
			return err
		}
		res := tx.Where("document_id = ? AND owner_id = ?", documentID, ownerID).Delete(&chunkRow{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, mapError("purge chunks", err)
	}
	return n, nil
}

func (s *Store) ListChunks(ctx context.Context, ownerID, documentID string) ([]models.DocumentChunk, error) {
	var rows []chunkRow
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		if err := s.mustExist(tx, ownerID, documentID); err != nil {
			return err
		}
		return tx.Where("document_id = ? AND owner_id = ?", documentID, ownerID).
			Order("chunk_index ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, mapError("list chunks", err)
	}

	out := make([]models.DocumentChunk, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// completedChunks is the join shared by both search paths.
func completedChunks(tx *gorm.DB, ownerID string, categories []models.Category) *gorm.DB {
	q := tx.Table("document_chunks AS c").
		Joins("JOIN documents AS d ON d.id = c.document_id").
		Where("c.owner_id = ? AND d.owner_id = ? AND d.status = ?", ownerID, ownerID, models.StatusCompleted)
	if len(categories) > 0 {
		q = q.Where("d.category IN ?", categories)
	}
	return q
}

func (s *Store) RankChunks(ctx context.Context, ownerID string, q store.ChunkQuery) ([]models.SearchResult, error) {
	if !s.vector {
		return nil, store.ErrRankingUnavailable
	}

	var rows []resultRow
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		return completedChunks(tx, ownerID, q.Categories).
			Select(resultColumns+", (c.embedding <=> ?) AS distance", pgvector.NewVector(q.Embedding)).
			Where("c.embedding IS NOT NULL").
			Order("distance ASC, c.chunk_index ASC, c.created_at ASC, c.id ASC").
			Limit(limitOf(q.Limit)).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, mapRankingError(err)
	}

	out := make([]models.SearchResult, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel(1 - rows[i].Distance)
	}
	return out, nil
}

// mapRankingError turns a missing operator or type into ErrRankingUnavailable.
func mapRankingError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "42883", "42704": // undefined_function, undefined_object
			return fmt.Errorf("%w: %s", store.ErrRankingUnavailable, pgErr.Message)
		}
	}
	return mapError("rank chunks", err)
}

func (s *Store) LexicalChunks(ctx context.Context, ownerID string, q store.ChunkQuery) ([]models.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []models.SearchResult{}, nil
	}

	var rows []resultRow
	err := s.scoped(ctx, ownerID, func(tx *gorm.DB) error {
		base := completedChunks(tx, ownerID, q.Categories)
		if s.dialect == dialectPostgres {
			return base.
				Select(resultColumns+", ts_rank(to_tsvector('english', c.content), plainto_tsquery('english', ?)) AS rank", text).
				Where("to_tsvector('english', c.content) @@ plainto_tsquery('english', ?)", text).
				Order("rank DESC, c.chunk_index ASC, c.created_at ASC").
				Limit(limitOf(q.Limit)).
				Scan(&rows).Error
		}

		base = base.Select(resultColumns)
		for _, term := range strings.Fields(strings.ToLower(text)) {
			base = base.Where(`LOWER(c.content) LIKE ? ESCAPE '\'`, "%"+escapeLike(term)+"%")
		}
		return base.
			Order("c.created_at ASC, c.chunk_index ASC").
			Limit(limitOf(q.Limit)).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, mapError("lexical chunks", err)
	}

	out := make([]models.SearchResult, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel(0)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// limitOf maps a non-positive limit to gorm's "no limit".
func limitOf(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
