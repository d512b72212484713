package document

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

type fakeReader struct {
	info  Info
	pages []RawPage
	err   error
}

func (f *fakeReader) ReadPages(ctx context.Context, data []byte) (Info, []RawPage, error) {
	return f.info, f.pages, f.err
}

type fakeRasterizer struct {
	mu    sync.Mutex
	pages []int
	err   error
}

func (f *fakeRasterizer) RasterizePage(ctx context.Context, data []byte, page int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	if f.err != nil {
		return nil, f.err
	}
	return []byte{byte(page)}, nil
}

type fakeRecognizer struct {
	byPage map[int]string
	err    error
	delay  time.Duration
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img []byte) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.byPage[int(img[0])], nil
}

func (f *fakeRecognizer) Close() error { return nil }

func letterPage(n int, text string) RawPage {
	return RawPage{Number: n, Text: text, Width: 612, Height: 792}
}

func TestDensityAndThreshold(t *testing.T) {
	d := Density(10, 612, 792)
	assert.InDelta(t, 10.0/(612*792), d, 1e-12)
	assert.Equal(t, d, Density(10, 0, 0), "missing size falls back to letter")

	assert.True(t, NeedsFallback(10, d))
	assert.False(t, NeedsFallback(150, Density(150, 612, 792)), "enough characters")
	// a tiny label with very dense text
	dense := Density(40, 20, 20)
	assert.GreaterOrEqual(t, dense, DensityThreshold)
	assert.False(t, NeedsFallback(40, dense))
}

func TestExtractFallbackOnlyForSparsePage(t *testing.T) {
	reader := &fakeReader{
		info: Info{Title: "A320 QRH", Pages: 3},
		pages: []RawPage{
			letterPage(1, strings.Repeat("a", 2400)),
			letterPage(2, strings.Repeat("b", 10)),
			letterPage(3, strings.Repeat("c", 900)),
		},
	}
	raster := &fakeRasterizer{}
	rec := &fakeRecognizer{byPage: map[int]string{2: strings.Repeat("r", 300)}}

	e := NewExtractor(reader, logger.NewTestLogger(), WithFallback(raster, rec))
	res, err := e.Extract(context.Background(), []byte("%PDF"), "ignored")
	require.NoError(t, err)

	assert.Equal(t, []int{2}, raster.pages)
	require.Len(t, res.Pages, 3)
	assert.False(t, res.Pages[0].NeedsFallback)
	assert.True(t, res.Pages[1].NeedsFallback)
	assert.True(t, res.Pages[1].FallbackUsed)
	assert.False(t, res.Pages[2].NeedsFallback)
	assert.Equal(t, models.MethodOCR, res.Method)
	assert.Equal(t, "A320 QRH", res.Title)

	want := strings.Repeat("a", 2400) + "\n\n" + strings.Repeat("r", 300) + "\n\n" + strings.Repeat("c", 900)
	assert.Equal(t, want, res.Text)
}

func TestExtractKeepsOriginalWhenRecognitionIsNotLonger(t *testing.T) {
	reader := &fakeReader{
		info:  Info{Pages: 1},
		pages: []RawPage{letterPage(1, "FUEL PUMP 2")},
	}
	rec := &fakeRecognizer{byPage: map[int]string{1: "FUEL"}}

	e := NewExtractor(reader, logger.NewTestLogger(), WithFallback(&fakeRasterizer{}, rec))
	res, err := e.Extract(context.Background(), []byte("%PDF"), "")
	require.NoError(t, err)

	assert.Equal(t, "FUEL PUMP 2", res.Text)
	assert.False(t, res.Pages[0].FallbackUsed)
	assert.Equal(t, models.MethodHybrid, res.Method)
}

func TestExtractSwallowsFallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		raster *fakeRasterizer
		rec    *fakeRecognizer
	}{
		{"rasterizer fails", &fakeRasterizer{err: errors.New("pdftoppm missing")}, &fakeRecognizer{}},
		{"recognizer fails", &fakeRasterizer{}, &fakeRecognizer{err: errors.New("engine crashed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{
				info:  Info{Pages: 2},
				pages: []RawPage{letterPage(1, "short"), letterPage(2, strings.Repeat("x", 500))},
			}
			e := NewExtractor(reader, logger.NewTestLogger(), WithFallback(tt.raster, tt.rec))
			res, err := e.Extract(context.Background(), []byte("%PDF"), "")
			require.NoError(t, err)
			assert.Equal(t, "short\n\n"+strings.Repeat("x", 500), res.Text)
			assert.Equal(t, models.MethodHybrid, res.Method)
		})
	}
}

func TestExtractPageTimeout(t *testing.T) {
	reader := &fakeReader{
		info:  Info{Pages: 1},
		pages: []RawPage{letterPage(1, "tiny")},
	}
	rec := &fakeRecognizer{byPage: map[int]string{1: strings.Repeat("z", 400)}, delay: 200 * time.Millisecond}
	log := logger.NewTestLogger()

	e := NewExtractor(reader, log, WithFallback(&fakeRasterizer{}, rec), WithPageTimeout(20*time.Millisecond))
	res, err := e.Extract(context.Background(), []byte("%PDF"), "")
	require.NoError(t, err)
	assert.Equal(t, "tiny", res.Text)
	assert.Equal(t, 1, log.Count("WARN"))
}

func TestExtractTextOnly(t *testing.T) {
	reader := &fakeReader{
		info:  Info{Pages: 1, Author: "Airbus"},
		pages: []RawPage{letterPage(1, strings.Repeat("word ", 40))},
	}
	e := NewExtractor(reader, logger.NewTestLogger())
	res, err := e.Extract(context.Background(), []byte("%PDF"), "FCOM")
	require.NoError(t, err)
	assert.Equal(t, models.MethodText, res.Method)
	assert.Equal(t, "Airbus", res.Author)
	assert.Equal(t, "FCOM", res.Title)
}

func TestExtractPlaceholderForEmptyText(t *testing.T) {
	reader := &fakeReader{
		info:  Info{Pages: 2},
		pages: []RawPage{letterPage(1, ""), letterPage(2, "  ")},
	}
	e := NewExtractor(reader, logger.NewTestLogger())
	res, err := e.Extract(context.Background(), []byte("%PDF"), "MEL Rev 4")
	require.NoError(t, err)
	assert.Equal(t, "Document: MEL Rev 4 (2 pages). No extractable text was found.", res.Text)
}

func TestExtractUnreadable(t *testing.T) {
	e := NewExtractor(&fakeReader{err: errors.New("malformed xref")}, logger.NewTestLogger())

	_, err := e.Extract(context.Background(), []byte("garbage"), "")
	assert.ErrorIs(t, err, ErrUnreadableDocument)

	_, err = e.Extract(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrUnreadableDocument)
}
