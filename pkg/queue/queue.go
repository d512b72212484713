// Package queue carries ingestion runs to background workers over asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskType 定义任务类型
const (
	TaskTypeDocumentIngest = "document:ingest"
)

const defaultQueue = "default"

// ErrDuplicateTask means an ingestion task for the document is already queued.
var ErrDuplicateTask = errors.New("ingestion already queued")

// Queue 接口定义
type Queue interface {
	EnqueueIngest(ctx context.Context, p *IngestPayload) error
	Close() error
}

// IngestPayload is the body of a document:ingest task.
type IngestPayload struct {
	OwnerID       string    `json:"ownerId"`
	DocumentID    string    `json:"documentId"`
	ExtractedText string    `json:"extractedText,omitempty"`
	// PageCount is the caller's page count for ExtractedText.
	PageCount     int       `json:"pageCount,omitempty"`
	RequestID     string    `json:"requestId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
	Concurrency    int
}

// RedisOpt is shared by the client side and the worker server.
func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// AsynqQueue 实现
type AsynqQueue struct {
	client *asynq.Client
	config *QueueConfig
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	return &AsynqQueue{
		client: asynq.NewClient(cfg.RedisOpt()),
		config: cfg,
	}
}

// NewIngestTask builds the task; its id is derived from the document so a
// document is queued at most once at a time.
func NewIngestTask(p *IngestPayload, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	if p.OwnerID == "" || p.DocumentID == "" {
		return nil, fmt.Errorf("ingest task needs owner and document id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(defaultQueue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID("ingest:" + p.DocumentID),
		asynq.Retention(time.Hour),
	}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(TaskTypeDocumentIngest, payload, opts...), nil
}

// ParseIngestPayload decodes and checks a document:ingest task body.
func ParseIngestPayload(t *asynq.Task) (*IngestPayload, error) {
	var p IngestPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if p.OwnerID == "" || p.DocumentID == "" {
		return nil, fmt.Errorf("invalid task data: missing required fields")
	}
	return &p, nil
}

// EnqueueIngest 将任务加入队列
func (q *AsynqQueue) EnqueueIngest(ctx context.Context, p *IngestPayload) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	t, err := NewIngestTask(p, q.config.MaxRetries, q.config.ProcessTimeout)
	if err != nil {
		return err
	}

	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
