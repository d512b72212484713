package agent

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/internal/agent/document"
	"github.com/feichai0017/manual-retrieval/internal/agent/document/image"
	"github.com/feichai0017/manual-retrieval/internal/agent/document/pdf"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

// NewExtractor wires the PDF reader with the recognition engine selected by
// ocr.engine. With engine "none" sparse pages keep their text layer.
func NewExtractor(ctx context.Context, c *cfg.OCRConfig, log logger.Logger) (*document.Extractor, error) {
	log = log.Named("extractor")
	opts := []document.Option{document.WithPageTimeout(c.PageTimeout)}

	recognizer, err := NewRecognizer(ctx, c, log)
	if err != nil {
		return nil, err
	}
	if recognizer != nil {
		opts = append(opts, document.WithFallback(pdf.NewRasterizer(c.PdftoppmPath, c.DPI), recognizer))
	}

	log.Info("Extractor configured",
		logger.String("ocr_engine", c.Engine),
		logger.Duration("page_timeout", c.PageTimeout),
	)
	return document.NewExtractor(pdf.NewReader(log), log, opts...), nil
}

// NewRecognizer returns nil for engine "none".
func NewRecognizer(ctx context.Context, c *cfg.OCRConfig, log logger.Logger) (document.Recognizer, error) {
	switch c.Engine {
	case "tesseract":
		opts := image.DefaultTesseractOptions()
		if len(c.Languages) > 0 {
			opts.Language = c.Languages
		}
		opts.MinConfidence = c.MinConfidence
		return image.NewTesseractRecognizer(log, opts)
	case "textract":
		tc := c.Textract
		rec, err := image.NewTextractRecognizer(ctx, &image.TextractConfig{
			Region:        tc.Region,
			Endpoint:      tc.Endpoint,
			AccessKey:     tc.AccessKey,
			SecretKey:     tc.SecretKey,
			MinConfidence: float32(tc.MinConfidence),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract recognizer: %w", err)
		}
		return rec, nil
	case "ollama":
		rec, err := image.NewOllamaRecognizer(&image.OllamaConfig{
			Endpoint: c.OllamaURL,
			Model:    c.OllamaModel,
			Timeout:  c.PageTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama recognizer: %w", err)
		}
		return rec, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %s", c.Engine)
	}
}
