package converters

import (
	"fmt"

	agentdoc "github.com/feichai0017/manual-retrieval/internal/agent/document"
)

// DocumentConverter 定义文档转换器接口
type DocumentConverter interface {
	Convert(res *agentdoc.Result) (*ProcessedDocument, error)
}

// ProcessedDocument is the body returned by the extraction endpoint.
type ProcessedDocument struct {
	Success  bool             `json:"success"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata 定义文档元数据
type DocumentMetadata struct {
	Pages            int          `json:"pages"`
	Title            string       `json:"title"`
	Author           string       `json:"author"`
	ProcessingMethod string       `json:"processingMethod"`
	PageDetails      []PageDetail `json:"pageDetails"`
}

// PageDetail describes how one page's text was obtained.
type PageDetail struct {
	PageNumber    int     `json:"pageNumber"`
	Characters    int     `json:"characters"`
	TextDensity   float64 `json:"textDensity"`
	NeedsFallback bool    `json:"needsOcr"`
	FallbackUsed  bool    `json:"ocrUsed"`
}

// JSONConverter 实现文档转换器
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) Convert(res *agentdoc.Result) (*ProcessedDocument, error) {
	if res == nil {
		return nil, fmt.Errorf("no extraction result to convert")
	}

	details := make([]PageDetail, 0, len(res.Pages))
	for _, p := range res.Pages {
		details = append(details, PageDetail{
			PageNumber:    p.PageNumber,
			Characters:    p.Chars,
			TextDensity:   p.TextDensity,
			NeedsFallback: p.NeedsFallback,
			FallbackUsed:  p.FallbackUsed,
		})
	}

	return &ProcessedDocument{
		Success: true,
		Content: res.Text,
		Metadata: DocumentMetadata{
			Pages:            res.PageCount,
			Title:            res.Title,
			Author:           res.Author,
			ProcessingMethod: string(res.Method),
			PageDetails:      details,
		},
	}, nil
}
