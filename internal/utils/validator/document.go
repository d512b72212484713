// Package validator checks uploaded manuals before anything is stored.
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

var pdfMagic = []byte("%PDF-")

// DocumentValidator 文档验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// Err joins the validation errors, or returns nil for a valid file.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, fmt.Errorf("%s: %s", e.Code, e.Message))
	}
	return errors.Join(errs...)
}

// DefaultConfig accepts PDFs up to 50MB.
func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 50 * 1024 * 1024,
		AllowedTypes: map[string][]string{
			".pdf": {"application/pdf"},
		},
	}
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &DocumentValidator{
		logger: log,
		config: config,
	}
}

// ValidateFile 验证单个文件
func (v *DocumentValidator) ValidateFile(filename string, data []byte) *ValidationResult {
	sum := sha256.Sum256(data)
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      int64(len(data)),
			Extension: strings.ToLower(filepath.Ext(filename)),
			MimeType:  mimetype.Detect(data).String(),
			Hash:      hex.EncodeToString(sum[:]),
		},
	}

	for _, check := range []func(FileInfo, []byte) []ValidationError{
		v.performBasicValidation,
		v.validateMimeType,
		v.validatePDF,
	} {
		if errs := check(result.FileInfo, data); len(errs) > 0 {
			result.IsValid = false
			result.Errors = append(result.Errors, errs...)
		}
	}

	if !result.IsValid {
		v.logger.Debug("File rejected",
			logger.String("filename", filename),
			logger.Int64("size", result.FileInfo.Size),
			logger.Any("errors", result.Errors),
		)
	}
	return result
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(info FileInfo, _ []byte) []ValidationError {
	var errs []ValidationError

	if info.Size == 0 {
		errs = append(errs, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}
	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errs = append(errs, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %q is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errs
}

// MIME类型验证
func (v *DocumentValidator) validateMimeType(info FileInfo, data []byte) []ValidationError {
	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok || info.Size == 0 {
		return nil
	}

	mt := mimetype.Detect(data)
	for _, m := range allowed {
		if mt.Is(m) {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

// PDF特定验证
func (v *DocumentValidator) validatePDF(info FileInfo, data []byte) []ValidationError {
	if info.Extension != ".pdf" || info.Size == 0 {
		return nil
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\n\r "), pdfMagic) {
		return []ValidationError{{
			Code:    "INVALID_PDF",
			Message: "File does not start with a PDF header",
			Field:   "content",
		}}
	}
	return nil
}
