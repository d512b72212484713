package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/storage/minio"
	"github.com/feichai0017/manual-retrieval/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage holds the original bytes of uploaded manuals.
type Storage interface {
	// Store writes the object and returns its key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ObjectKey returns the owner-scoped key <owner>/<document>/<file>.
func ObjectKey(ownerID, documentID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	return path.Join(ownerID, documentID, name)
}

// DocumentPrefix is the key prefix shared by all objects of one document.
func DocumentPrefix(ownerID, documentID string) string {
	return path.Join(ownerID, documentID) + "/"
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, c *config.StorageConfig, log logger.Logger) (Storage, error) {
	log = log.Named("storage")
	switch StorageType(c.Type) {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, &c.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, &c.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Type)
	}
}
