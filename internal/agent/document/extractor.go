// Package document turns PDF bytes into per-page text, routing sparse pages
// through an image recognition fallback.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/manual-retrieval/internal/models"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const (
	// DensityThreshold is the characters-per-square-point floor below which a page may be sparse.
	DensityThreshold = 0.01
	// MinPageChars is the character count at or above which a page is never sparse.
	MinPageChars = 100
	// DefaultPageTimeout bounds the fallback for a single page.
	DefaultPageTimeout = 30 * time.Second

	// US Letter in points, used when a page carries no MediaBox
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0

	pageSeparator = "\n\n"
)

// ErrUnreadableDocument is returned when the bytes cannot be parsed as a PDF.
var ErrUnreadableDocument = errors.New("unreadable document")

// Info is the document-level metadata found in the PDF trailer.
type Info struct {
	Title  string
	Author string
	Pages  int
}

// RawPage is the text layer of one page as read from the PDF.
type RawPage struct {
	Number int
	Text   string
	Width  float64
	Height float64
}

// PageReader parses PDF bytes into pages.
type PageReader interface {
	ReadPages(ctx context.Context, data []byte) (Info, []RawPage, error)
}

// Rasterizer renders a single 1-based page to an encoded image.
type Rasterizer interface {
	RasterizePage(ctx context.Context, data []byte, page int) ([]byte, error)
}

// Recognizer runs optical character recognition over an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
	Close() error
}

// PageText describes the final text of one page.
type PageText struct {
	PageNumber    int     `json:"pageNumber"`
	Text          string  `json:"-"`
	Chars         int     `json:"chars"`
	TextDensity   float64 `json:"textDensity"`
	NeedsFallback bool    `json:"needsFallback"`
	FallbackUsed  bool    `json:"fallbackUsed"`
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text      string
	Title     string
	Author    string
	PageCount int
	Method    models.ProcessingMethod
	Pages     []PageText
}

// Density normalises a character count by page area. Pages without a usable
// size are measured as US Letter.
func Density(chars int, width, height float64) float64 {
	if width <= 0 || height <= 0 {
		width, height = defaultPageWidth, defaultPageHeight
	}
	return float64(chars) / (width * height)
}

// NeedsFallback reports whether a page is sparse enough to try recognition.
// Both conditions must hold, so a short but dense title page is kept as is.
func NeedsFallback(chars int, density float64) bool {
	return density < DensityThreshold && chars < MinPageChars
}

type Option func(*Extractor)

// WithPageTimeout overrides DefaultPageTimeout.
func WithPageTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.pageTimeout = d
		}
	}
}

// WithFallback enables recognition of sparse pages.
func WithFallback(r Rasterizer, rec Recognizer) Option {
	return func(e *Extractor) {
		e.rasterizer = r
		e.recognizer = rec
	}
}

// Extractor reads the text layer of a PDF and recognises sparse pages.
type Extractor struct {
	reader      PageReader
	rasterizer  Rasterizer
	recognizer  Recognizer
	pageTimeout time.Duration
	logger      logger.Logger
}

func NewExtractor(reader PageReader, log logger.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		reader:      reader,
		pageTimeout: DefaultPageTimeout,
		logger:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of every page joined by blank lines. title is used
// for the placeholder text when the PDF carries no title of its own.
func (e *Extractor) Extract(ctx context.Context, data []byte, title string) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnreadableDocument)
	}

	info, raw, err := e.reader.ReadPages(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	if info.Title == "" {
		info.Title = title
	}

	res := &Result{
		Title:     info.Title,
		Author:    info.Author,
		PageCount: info.Pages,
		Pages:     make([]PageText, 0, len(raw)),
	}
	if res.PageCount < len(raw) {
		res.PageCount = len(raw)
	}

	var flagged, replaced int
	texts := make([]string, 0, len(raw))
	for _, p := range raw {
		chars := utf8.RuneCountInString(strings.TrimSpace(p.Text))
		density := Density(chars, p.Width, p.Height)
		pt := PageText{
			PageNumber:    p.Number,
			Text:          p.Text,
			Chars:         chars,
			TextDensity:   density,
			NeedsFallback: NeedsFallback(chars, density),
		}

		if pt.NeedsFallback {
			flagged++
			if text, ok := e.fallback(ctx, data, pt); ok {
				pt.Text = text
				pt.Chars = utf8.RuneCountInString(strings.TrimSpace(text))
				pt.FallbackUsed = true
				replaced++
			}
		}

		res.Pages = append(res.Pages, pt)
		if t := strings.TrimSpace(pt.Text); t != "" {
			texts = append(texts, t)
		}
	}

	res.Method = processingMethod(flagged, replaced)
	res.Text = strings.Join(texts, pageSeparator)
	if res.Text == "" && res.PageCount > 0 {
		res.Text = Placeholder(res.Title, res.PageCount)
	}

	e.logger.Info("Document extracted",
		logger.Int("pages", res.PageCount),
		logger.Int("flagged_pages", flagged),
		logger.Int("recognized_pages", replaced),
		logger.String("method", string(res.Method)),
	)
	return res, nil
}

// Placeholder describes a document that yielded no text at all.
func Placeholder(title string, pages int) string {
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("Document: %s (%d pages). No extractable text was found.", title, pages)
}

// fallback recognises one page. Any failure leaves the page untouched and
// the recognised text is only taken when strictly longer than the original.
func (e *Extractor) fallback(ctx context.Context, data []byte, page PageText) (string, bool) {
	if e.rasterizer == nil || e.recognizer == nil {
		return "", false
	}

	log := e.logger.With(logger.Int("page", page.PageNumber))
	ctx, cancel := context.WithTimeout(ctx, e.pageTimeout)
	defer cancel()

	img, err := e.rasterizer.RasterizePage(ctx, data, page.PageNumber)
	if err != nil {
		log.Warn("Failed to rasterize page", logger.Error(err))
		return "", false
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := e.recognizer.Recognize(ctx, img)
		done <- outcome{text, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		log.Warn("Page recognition timed out", logger.Duration("timeout", e.pageTimeout))
		return "", false
	}
	if out.err != nil {
		log.Warn("Page recognition failed", logger.Error(out.err))
		return "", false
	}

	if utf8.RuneCountInString(strings.TrimSpace(out.text)) <= page.Chars {
		log.Debug("Recognized text not longer than text layer, keeping original",
			logger.Int("original_chars", page.Chars),
		)
		return "", false
	}
	return out.text, true
}

func processingMethod(flagged, replaced int) models.ProcessingMethod {
	switch {
	case flagged == 0:
		return models.MethodText
	case replaced == flagged:
		return models.MethodOCR
	default:
		return models.MethodHybrid
	}
}

// Close releases the recognizer.
func (e *Extractor) Close() error {
	if e.recognizer != nil {
		return e.recognizer.Close()
	}
	return nil
}
