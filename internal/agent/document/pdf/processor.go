package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const defaultMaxWorkers = 4

// Reader extracts the text layer of every page with ledongthuc/pdf.
type Reader struct {
	logger     logger.Logger
	maxWorkers int
}

func NewReader(log logger.Logger) *Reader {
	return &Reader{
		logger:     log,
		maxWorkers: defaultMaxWorkers,
	}
}

// ReadPages implements document.PageReader. Pages are read in parallel and
// returned in page order.
func (r *Reader) ReadPages(ctx context.Context, data []byte) (info document.Info, pages []document.RawPage, err error) {
	// the parser panics on some malformed cross reference tables
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	br := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(br, br.Size())
	if err != nil {
		return document.Info{}, nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	info = metadata(pdfReader)
	info.Pages = numPages
	if numPages == 0 {
		return info, nil, fmt.Errorf("pdf has no pages")
	}

	pages = make([]document.RawPage, numPages)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("malformed page %d: %v", pageNum, rec)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}

			page := pdfReader.Page(pageNum)
			raw := document.RawPage{Number: pageNum}
			if page.V.IsNull() {
				pages[pageNum-1] = raw
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				// a page with a broken content stream keeps empty text and may be recognised instead
				r.logger.Warn("Failed to get text from page",
					logger.Int("page", pageNum),
					logger.Error(err),
				)
				text = ""
			}
			raw.Text = cleanText(text)
			raw.Width, raw.Height = mediaBox(page.V)
			pages[pageNum-1] = raw
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return info, nil, err
	}
	return info, pages, nil
}

func metadata(r *pdf.Reader) document.Info {
	var info document.Info
	trailer := r.Trailer()
	if trailer.IsNull() {
		return info
	}
	meta := trailer.Key("Info")
	if meta.IsNull() {
		return info
	}
	if title := meta.Key("Title"); !title.IsNull() {
		info.Title = strings.TrimSpace(title.Text())
	}
	if author := meta.Key("Author"); !author.IsNull() {
		info.Author = strings.TrimSpace(author.Text())
	}
	return info
}

// mediaBox walks up the page tree since MediaBox is inheritable.
// Zero is returned when no box is present.
func mediaBox(v pdf.Value) (float64, float64) {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w < 0 {
				w = -w
			}
			if h < 0 {
				h = -h
			}
			return w, h
		}
		v = v.Key("Parent")
	}
	return 0, 0
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
