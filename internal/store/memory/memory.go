// Package memory is an in-process Store used by tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
)

type chunkRecord struct {
	chunk models.DocumentChunk
	seq   uint64
}

type Store struct {
	mu       sync.RWMutex
	docs     map[string]*models.Document
	chunks   map[string][]chunkRecord
	seq      uint64
	noVector bool
	now      func() time.Time
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithoutVectorRanking makes RankChunks report store.ErrRankingUnavailable.
func WithoutVectorRanking() Option {
	return func(s *Store) { s.noVector = true }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]chunkRecord),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

// owned must be called with mu held.
func (s *Store) owned(ownerID, id string) (*models.Document, error) {
	d, ok := s.docs[id]
	if !ok || d.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, ownerID, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.owned(ownerID, id)
	if err != nil {
		return nil, err
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDocuments(ctx context.Context, ownerID string, f store.ListFilter) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Document, 0)
	for _, d := range s.docs {
		if d.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Document{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(ownerID, id); err != nil {
		return err
	}
	delete(s.chunks, id)
	delete(s.docs, id)
	return nil
}

func (s *Store) ClaimForProcessing(ctx context.Context, ownerID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.owned(ownerID, id)
	if err != nil {
		return false, err
	}
	if d.Status != models.StatusPending {
		return false, nil
	}
	d.Status = models.StatusProcessing
	d.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) CompleteDocument(ctx context.Context, ownerID, id string, c store.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.owned(ownerID, id)
	if err != nil {
		return err
	}
	if d.Status != models.StatusProcessing {
		return store.ErrStateConflict
	}
	d.Status = models.StatusCompleted
	d.TotalChunks = c.TotalChunks
	d.PageCount = c.PageCount
	d.ProcessingMethod = c.Method
	d.ErrorMessage = ""
	d.UpdatedAt = s.now()
	return nil
}

func (s *Store) FailDocument(ctx context.Context, ownerID, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.owned(ownerID, id)
	if err != nil {
		return err
	}
	if d.Status != models.StatusProcessing {
		return store.ErrStateConflict
	}
	d.Status = models.StatusFailed
	d.TotalChunks = 0
	d.ErrorMessage = reason
	d.UpdatedAt = s.now()
	return nil
}

func (s *Store) InsertChunk(ctx context.Context, c *models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(c.OwnerID, c.DocumentID); err != nil {
		return err
	}
	for _, r := range s.chunks[c.DocumentID] {
		if r.chunk.ChunkIndex == c.ChunkIndex {
			return store.ErrStateConflict
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	s.seq++
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	s.chunks[c.DocumentID] = append(s.chunks[c.DocumentID], chunkRecord{chunk: cp, seq: s.seq})
	return nil
}

func (s *Store) PurgeChunks(ctx context.Context, ownerID, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(ownerID, documentID); err != nil {
		return 0, err
	}
	n := int64(len(s.chunks[documentID]))
	delete(s.chunks, documentID)
	return n, nil
}

func (s *Store) ListChunks(ctx context.Context, ownerID, documentID string) ([]models.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.owned(ownerID, documentID); err != nil {
		return nil, err
	}
	recs := s.chunks[documentID]
	out := make([]models.DocumentChunk, len(recs))
	for i, r := range recs {
		out[i] = r.chunk
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

type candidate struct {
	result models.SearchResult
	seq    uint64
}

// eligible returns chunks of the owner's completed documents in the allowed
// categories. Must be called with mu held.
func (s *Store) eligible(ownerID string, categories []models.Category, match func(models.DocumentChunk) bool) []candidate {
	allowed := make(map[models.Category]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	var out []candidate
	for docID, recs := range s.chunks {
		d, ok := s.docs[docID]
		if !ok || d.OwnerID != ownerID || d.Status != models.StatusCompleted {
			continue
		}
		if len(allowed) > 0 && !allowed[d.Category] {
			continue
		}
		for _, r := range recs {
			if r.chunk.OwnerID != ownerID || !match(r.chunk) {
				continue
			}
			out = append(out, candidate{
				result: models.SearchResult{
					DocumentID:    d.ID,
					DocumentTitle: d.Title,
					Section:       r.chunk.Section,
					PageNumber:    r.chunk.PageNumber,
					Content:       r.chunk.Content,
					DocumentType:  d.Category,
					FileName:      d.FileName,
					ChunkIndex:    r.chunk.ChunkIndex,
				},
				seq: r.seq,
			})
		}
	}
	return out
}

func (s *Store) RankChunks(ctx context.Context, ownerID string, q store.ChunkQuery) ([]models.SearchResult, error) {
	if s.noVector {
		return nil, store.ErrRankingUnavailable
	}

	s.mu.RLock()
	embeddings := make(map[uint64][]float32)
	cands := s.eligible(ownerID, q.Categories, func(c models.DocumentChunk) bool { return len(c.Embedding) > 0 })
	for _, recs := range s.chunks {
		for _, r := range recs {
			embeddings[r.seq] = r.chunk.Embedding
		}
	}
	s.mu.RUnlock()

	for i := range cands {
		d := store.CosineDistance(q.Embedding, embeddings[cands[i].seq])
		cands[i].result.Distance = d
		cands[i].result.Similarity = 1 - d
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.result.Distance != b.result.Distance {
			return a.result.Distance < b.result.Distance
		}
		if a.result.ChunkIndex != b.result.ChunkIndex {
			return a.result.ChunkIndex < b.result.ChunkIndex
		}
		return a.seq < b.seq
	})
	return limit(cands, q.Limit), nil
}

func (s *Store) LexicalChunks(ctx context.Context, ownerID string, q store.ChunkQuery) ([]models.SearchResult, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return []models.SearchResult{}, nil
	}

	s.mu.RLock()
	cands := s.eligible(ownerID, q.Categories, func(c models.DocumentChunk) bool {
		content := strings.ToLower(c.Content)
		for _, t := range terms {
			if !strings.Contains(content, t) {
				return false
			}
		}
		return true
	})
	s.mu.RUnlock()

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].seq < cands[j].seq })
	return limit(cands, q.Limit), nil
}

func limit(cands []candidate, n int) []models.SearchResult {
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	out := make([]models.SearchResult, len(cands))
	for i, c := range cands {
		out[i] = c.result
	}
	return out
}
