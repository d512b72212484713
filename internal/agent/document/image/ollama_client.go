package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const defaultVisionPrompt = `Transcribe all text visible in this page image exactly as printed.
Keep line breaks, numbers and checklist items. Do not summarise or add commentary.
If there is no text, answer with an empty response.`

type OllamaConfig struct {
	Endpoint    string
	Model       string
	Temperature float64
	Prompt      string
	Timeout     time.Duration
}

// OllamaRecognizer asks a local vision model to transcribe page images.
type OllamaRecognizer struct {
	llm    llms.Model
	prompt string
	temp   float64
	logger logger.Logger
}

func NewOllamaRecognizer(cfg *OllamaConfig, log logger.Logger) (*OllamaRecognizer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.Endpoint),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return newOllamaRecognizer(llm, cfg, log), nil
}

func newOllamaRecognizer(llm llms.Model, cfg *OllamaConfig, log logger.Logger) *OllamaRecognizer {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultVisionPrompt
	}
	return &OllamaRecognizer{
		llm:    llm,
		prompt: prompt,
		temp:   cfg.Temperature,
		logger: log.Named("ollama"),
	}
}

// Recognize implements document.Recognizer.
func (c *OllamaRecognizer) Recognize(ctx context.Context, data []byte) (string, error) {
	msgs := []llms.MessageContent{{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart("image/png", data),
			llms.TextPart(c.prompt),
		},
	}}

	resp, err := c.llm.GenerateContent(ctx, msgs, llms.WithTemperature(c.temp))
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (c *OllamaRecognizer) Close() error {
	return nil
}
