package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms a page image before recognition.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessConfig tunes the default pipeline.
type PreprocessConfig struct {
	MinWidth        int
	Contrast        float64
	DenoiseStrength float64
	SharpenStrength float64
}

func DefaultPreprocessConfig() *PreprocessConfig {
	return &PreprocessConfig{
		MinWidth:        1700,
		Contrast:        20,
		DenoiseStrength: 0.5,
		SharpenStrength: 0.5,
	}
}

// NewPipeline builds the preprocessing chain used before tesseract runs.
func NewPipeline(cfg *PreprocessConfig) []Preprocessor {
	if cfg == nil {
		cfg = DefaultPreprocessConfig()
	}
	return []Preprocessor{
		NewUpscaleProcessor(cfg.MinWidth),
		NewGrayscaleProcessor(),
		NewDenoiseProcessor(cfg.DenoiseStrength),
		NewContrastProcessor(cfg.Contrast),
		NewSharpenProcessor(cfg.SharpenStrength),
	}
}

// Apply runs img through every preprocessor in order.
func Apply(img image.Image, pipeline []Preprocessor) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	for _, p := range pipeline {
		img, err = p.Process(img)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if img == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return img, nil
}

type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// UpscaleProcessor enlarges narrow scans; tesseract loses small glyphs below ~300 DPI.
type UpscaleProcessor struct {
	minWidth int
}

func NewUpscaleProcessor(minWidth int) *UpscaleProcessor {
	return &UpscaleProcessor{minWidth: minWidth}
}

func (p *UpscaleProcessor) Process(img image.Image) (image.Image, error) {
	if p.minWidth <= 0 || img.Bounds().Dx() >= p.minWidth {
		return img, nil
	}
	return imaging.Resize(img, p.minWidth, 0, imaging.Lanczos), nil
}

type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Blur(img, p.strength), nil
}

type ContrastProcessor struct {
	amount float64
}

func NewContrastProcessor(amount float64) *ContrastProcessor {
	return &ContrastProcessor{amount: amount}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.amount), nil
}

type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	if p.strength <= 0 {
		return img, nil
	}
	return imaging.Sharpen(img, p.strength), nil
}
