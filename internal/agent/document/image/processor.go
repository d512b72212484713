package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

// TesseractOptions 处理选项
type TesseractOptions struct {
	Language      []string
	PageSegMode   gosseract.PageSegMode
	MinConfidence float64
	Preprocess    *PreprocessConfig
}

func DefaultTesseractOptions() *TesseractOptions {
	return &TesseractOptions{
		Language:      []string{"eng"},
		PageSegMode:   gosseract.PSM_AUTO,
		MinConfidence: 60.0,
		Preprocess:    DefaultPreprocessConfig(),
	}
}

// TesseractRecognizer runs a local tesseract over preprocessed page images.
type TesseractRecognizer struct {
	logger   logger.Logger
	pipeline []Preprocessor
	config   *TesseractOptions
}

func NewTesseractRecognizer(log logger.Logger, opts *TesseractOptions) (*TesseractRecognizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = DefaultTesseractOptions()
	}
	return &TesseractRecognizer{
		logger:   log.Named("tesseract"),
		pipeline: NewPipeline(opts.Preprocess),
		config:   opts,
	}, nil
}

// Recognize implements document.Recognizer. gosseract has no cancellation,
// the caller bounds it with its own deadline.
func (p *TesseractRecognizer) Recognize(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	processed, err := Apply(img, p.pipeline)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, imaging.Clone(processed)); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	// 为每个任务创建新的 Tesseract 客户端
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Join(p.config.Language, "+")); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(p.config.PageSegMode); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to get text: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		p.logger.Warn("Failed to get bounding boxes", logger.Error(err))
		return text, nil
	}
	if conf := averageConfidence(boxes); conf < p.config.MinConfidence {
		p.logger.Debug("Low confidence recognition",
			logger.Float64("confidence", conf),
			logger.Int("words", len(boxes)),
		)
		return keepConfident(boxes, p.config.MinConfidence), nil
	}
	return text, nil
}

func averageConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var total float64
	for _, b := range boxes {
		total += b.Confidence
	}
	return total / float64(len(boxes))
}

// keepConfident drops words below min, preserving reading order.
func keepConfident(boxes []gosseract.BoundingBox, min float64) string {
	words := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence >= min && strings.TrimSpace(b.Word) != "" {
			words = append(words, b.Word)
		}
	}
	return strings.Join(words, " ")
}

func (p *TesseractRecognizer) Close() error {
	return nil
}
