package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractRecognizer sends page images to AWS Textract.
type TextractRecognizer struct {
	client TextractAPI
	logger logger.Logger
	config *TextractConfig
}

func NewTextractRecognizer(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractRecognizer, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewTextractRecognizerWithClient(client, cfg, log), nil
}

func NewTextractRecognizerWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractRecognizer {
	return &TextractRecognizer{
		client: client,
		logger: log.Named("textract"),
		config: cfg,
	}
}

// Recognize implements document.Recognizer.
func (p *TextractRecognizer) Recognize(ctx context.Context, data []byte) (string, error) {
	out, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return "", fmt.Errorf("failed to detect document text: %w", err)
	}
	lines := p.processBlocks(out.Blocks)
	p.logger.Debug("Textract lines detected", logger.Int("lines", len(lines)))
	return strings.Join(lines, "\n"), nil
}

// processBlocks keeps LINE blocks at or above the confidence floor, in order.
func (p *TextractRecognizer) processBlocks(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
	}
	return texts
}

func (p *TextractRecognizer) Close() error {
	return nil
}
