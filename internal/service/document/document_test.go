package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentdoc "github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/internal/chunker"
	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/internal/store"
	"github.com/feichai0017/manual-retrieval/internal/store/memory"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/queue"
)

const tinyPDF = "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n"

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Store(ctx context.Context, r io.Reader, key string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return key, nil
}

func (m *memBlobs) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobs) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

func (m *memBlobs) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type stubEmbedder struct {
	mu     sync.Mutex
	calls  int
	failAt int
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.calls
	e.calls++
	if e.failAt >= 0 && n == e.failAt {
		return nil, errors.New("provider returned 503")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

// recordingStore remembers the chunk indices that reached the store.
type recordingStore struct {
	*memory.Store
	mu       sync.Mutex
	inserted []int
}

func (r *recordingStore) InsertChunk(ctx context.Context, c *models.DocumentChunk) error {
	r.mu.Lock()
	r.inserted = append(r.inserted, c.ChunkIndex)
	r.mu.Unlock()
	return r.Store.InsertChunk(ctx, c)
}

type pageReader struct {
	pages []agentdoc.RawPage
}

func (p *pageReader) ReadPages(ctx context.Context, data []byte) (agentdoc.Info, []agentdoc.RawPage, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return agentdoc.Info{}, nil, errors.New("malformed PDF")
	}
	return agentdoc.Info{Pages: len(p.pages)}, p.pages, nil
}

type pageRasterizer struct {
	mu    sync.Mutex
	pages []int
}

func (r *pageRasterizer) RasterizePage(ctx context.Context, data []byte, page int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, page)
	return []byte{byte(page)}, nil
}

type pageRecognizer map[int]string

func (p pageRecognizer) Recognize(ctx context.Context, img []byte) (string, error) {
	return p[int(img[0])], nil
}

func (p pageRecognizer) Close() error { return nil }

type fakeQueue struct {
	payloads []*queue.IngestPayload
	err      error
}

func (q *fakeQueue) EnqueueIngest(ctx context.Context, p *queue.IngestPayload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, p)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

// prose returns exactly n characters of sentence text.
func prose(n int) string {
	const sentence = "Check the engine fire switch. "
	s := strings.Repeat(sentence, n/len(sentence)+1)[:n]
	if strings.HasSuffix(s, " ") {
		s = s[:n-1] + "x"
	}
	return s
}

type fixture struct {
	svc      *DocumentService
	store    *recordingStore
	blobs    *memBlobs
	embedder *stubEmbedder
	raster   *pageRasterizer
	log      *logger.TestLogger
}

func newFixture(t *testing.T, cfg *ServiceConfig, pages []agentdoc.RawPage, recognized map[int]string) *fixture {
	t.Helper()
	log := logger.NewTestLogger()
	f := &fixture{
		store:    &recordingStore{Store: memory.New()},
		blobs:    newMemBlobs(),
		embedder: &stubEmbedder{failAt: -1},
		raster:   &pageRasterizer{},
		log:      log,
	}
	extractor := agentdoc.NewExtractor(&pageReader{pages: pages}, log,
		agentdoc.WithFallback(f.raster, pageRecognizer(recognized)))
	f.svc = NewService(f.store, f.blobs, extractor, f.embedder, nil, log, cfg)
	return f
}

func (f *fixture) upload(t *testing.T, owner string) *models.Document {
	t.Helper()
	doc, err := f.svc.Upload(context.Background(), owner, &UploadRequest{
		Title:    "A320 QRH",
		Category: "qrh",
		FileName: "a320-qrh.pdf",
		Body:     strings.NewReader(tinyPDF),
	})
	require.NoError(t, err)
	return doc
}

func TestUploadStoresFileAndCreatesPendingDocument(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	doc := f.upload(t, "alice")

	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, models.CategoryQRH, doc.Category)
	assert.Equal(t, "alice/"+doc.ID+"/a320-qrh.pdf", doc.StoragePath)
	assert.EqualValues(t, len(tinyPDF), doc.FileSize)
	assert.Equal(t, []string{doc.StoragePath}, f.blobs.keys())

	got, err := f.svc.Get(context.Background(), "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = f.svc.Get(context.Background(), "bob", doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	tests := []struct {
		name string
		req  *UploadRequest
	}{
		{"nil", nil},
		{"unknown category", &UploadRequest{Category: "POH", FileName: "x.pdf", Body: strings.NewReader(tinyPDF)}},
		{"not a pdf", &UploadRequest{Category: "FCOM", FileName: "x.pdf", Body: strings.NewReader("plain text")}},
		{"empty", &UploadRequest{Category: "FCOM", FileName: "x.pdf", Body: strings.NewReader("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upload(context.Background(), "alice", tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, f.blobs.keys())
}

func TestIngestThreePageDocument(t *testing.T) {
	pages := []agentdoc.RawPage{
		{Number: 1, Text: prose(2400), Width: 612, Height: 792},
		{Number: 2, Text: "Diagram 2.", Width: 612, Height: 792},
		{Number: 3, Text: prose(900), Width: 612, Height: 792},
	}
	f := newFixture(t, nil, pages, map[int]string{2: prose(300)})
	ctx := context.Background()
	doc := f.upload(t, "alice")

	res, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, f.raster.pages, "only the sparse page is rasterized")
	assert.Equal(t, models.MethodOCR, res.Method)
	assert.Equal(t, 3, res.PageCount)

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, res.ChunksProcessed, got.TotalChunks)
	assert.Equal(t, models.MethodOCR, got.ProcessingMethod)

	// 2400 + 300 + 900 characters plus two page separators, advancing ~800 per chunk
	assert.GreaterOrEqual(t, res.ChunksProcessed, 5)
	assert.LessOrEqual(t, res.ChunksProcessed, 7)

	chunks, err := f.store.ListChunks(ctx, "alice", doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunksProcessed)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.NotEmpty(t, c.Content)
		assert.Len(t, c.Embedding, 3)
	}

	// same bytes, same chunk count
	again := f.upload(t, "alice")
	res2, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: again.ID})
	require.NoError(t, err)
	assert.Equal(t, res.ChunksProcessed, res2.ChunksProcessed)
}

func TestIngestEmbeddingFailureMarksFailedAndPurges(t *testing.T) {
	cfg := &ServiceConfig{ChunkSize: 100, ChunkOverlap: 0, MaxFileSize: 1 << 20}
	f := newFixture(t, cfg, nil, nil)
	f.embedder.failAt = 3
	ctx := context.Background()
	doc := f.upload(t, "alice")

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("%-98s.", fmt.Sprintf("Step %d: verify the affected system", i)))
	}
	text := strings.Join(lines, "\n")
	pieces, err := chunker.Chunk(text, cfg.ChunkSize, cfg.ChunkOverlap)
	require.NoError(t, err)
	require.Len(t, pieces, 10)

	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: text})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotEligible)

	assert.Equal(t, []int{0, 1, 2}, f.store.inserted, "no chunk at or after the failing index is written")

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Zero(t, got.TotalChunks)

	chunks, err := f.store.ListChunks(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks, "partial chunks are purged")

	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: text})
	assert.ErrorIs(t, err, ErrNotEligible, "failed documents are never retried in place")
	assert.GreaterOrEqual(t, f.log.Count("ERROR"), 1)
}

func TestIngestEligibility(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")

	_, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: "not-a-uuid"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Ingest(ctx, "bob", &IngestRequest{DocumentID: doc.ID, ExtractedText: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	// a concurrent run holds the claim
	ok, err := f.store.ClaimForProcessing(ctx, "alice", doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "ENGINE FIRE."})
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Zero(t, f.embedder.calls)
}

func TestIngestCompletedDocumentIsNotEligible(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")

	res, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "ENGINE FIRE. Thrust lever idle.", Metadata: map[string]any{"pages": float64(4)}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksProcessed)
	assert.Equal(t, 4, res.PageCount)
	assert.Equal(t, models.MethodText, res.Method)

	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "again"})
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestIngestPurgesStaleChunks(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")
	require.NoError(t, f.store.Store.InsertChunk(ctx, &models.DocumentChunk{
		DocumentID: doc.ID, OwnerID: "alice", ChunkIndex: 0, Content: "stale",
	}))

	_, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "Fresh content."})
	require.NoError(t, err)

	chunks, err := f.store.ListChunks(ctx, "alice", doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Fresh content.", chunks[0].Content)
}

func TestIngestMissingFileFails(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")
	require.NoError(t, f.blobs.Delete(ctx, doc.StoragePath))

	_, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID})
	require.Error(t, err)

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestIngestUnreadablePDFFails(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")
	_, err := f.blobs.Store(ctx, strings.NewReader("garbage"), doc.StoragePath)
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, agentdoc.ErrUnreadableDocument)

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestIngestSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	doc := f.upload(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "ENGINE FIRE. Land ASAP."})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksProcessed)
}

func TestIngestAsync(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := logger.WithRequestID(context.Background(), "req-42")
	doc := f.upload(t, "alice")

	assert.ErrorIs(t, f.svc.IngestAsync(ctx, "alice", &IngestRequest{DocumentID: doc.ID}), ErrQueueDisabled)

	q := &fakeQueue{}
	f.svc.queue = q
	require.NoError(t, f.svc.IngestAsync(ctx, "alice", &IngestRequest{
		DocumentID:    doc.ID,
		ExtractedText: "text",
		Metadata:      map[string]any{"pages": float64(12)},
	}))
	require.Len(t, q.payloads, 1)
	assert.Equal(t, &queue.IngestPayload{
		OwnerID:       "alice",
		DocumentID:    doc.ID,
		ExtractedText: "text",
		PageCount:     12,
		RequestID:     "req-42",
	}, q.payloads[0])

	got, err := f.svc.Get(ctx, "alice", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "the worker claims, not the enqueuer")

	q.err = queue.ErrDuplicateTask
	assert.ErrorIs(t, f.svc.IngestAsync(ctx, "alice", &IngestRequest{DocumentID: doc.ID}), ErrNotEligible)
}

func TestDeleteRemovesDocumentChunksAndFile(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	ctx := context.Background()
	doc := f.upload(t, "alice")
	keep := f.upload(t, "alice")
	_, err := f.svc.Ingest(ctx, "alice", &IngestRequest{DocumentID: doc.ID, ExtractedText: "ENGINE FIRE."})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, "bob", doc.ID), ErrNotFound)
	require.NoError(t, f.svc.Delete(ctx, "alice", doc.ID))

	_, err = f.svc.Get(ctx, "alice", doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.store.ListChunks(ctx, "alice", doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{keep.StoragePath}, f.blobs.keys())

	docs, err := f.svc.List(ctx, "alice", store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, keep.ID, docs[0].ID)
}

func TestExtract(t *testing.T) {
	pages := []agentdoc.RawPage{{Number: 1, Text: prose(400), Width: 612, Height: 792}}
	f := newFixture(t, nil, pages, nil)

	res, err := f.svc.Extract(context.Background(), "fcom.pdf", []byte(tinyPDF))
	require.NoError(t, err)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, models.MethodText, res.Method)
	assert.Equal(t, "fcom", res.Title)

	_, err = f.svc.Extract(context.Background(), "fcom.pdf", []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
