// Package worker runs queued ingestion tasks.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisOpt        asynq.RedisClientOpt
	Concurrency     int
	Queues          map[string]int
	ShutdownTimeout time.Duration
}

type BaseWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger logger.Logger
}

func newBaseWorker(cfg *Config, log logger.Logger) BaseWorker {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}
	return BaseWorker{
		server: asynq.NewServer(cfg.RedisOpt, asynq.Config{
			Concurrency:     cfg.Concurrency,
			Queues:          queues,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          asynqLogger{log.Named("asynq")},
			LogLevel:        asynq.WarnLevel,
		}),
		mux:    asynq.NewServeMux(),
		logger: log,
	}
}

// Start begins processing and stops when ctx is done.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()
	return nil
}

func (w *BaseWorker) Stop() error {
	w.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's own logging into the service logger.
type asynqLogger struct {
	l logger.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(sprint(args)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(sprint(args)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(sprint(args)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(sprint(args)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(sprint(args)) }

func sprint(args []interface{}) string {
	return fmt.Sprint(args...)
}
