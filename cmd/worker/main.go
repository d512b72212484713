package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/internal/app"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/worker"
)

func main() {
	cfg := config.Get()

	// 初始化日志
	log, err := app.NewLogger(&cfg.Log, map[string]interface{}{"service": "worker"})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 创建文档服务
	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialise services", logger.Error(err))
		os.Exit(1)
	}
	defer services.Close()

	// 创建 worker
	documentWorker := worker.NewDocumentWorker(&worker.Config{
		RedisOpt:        app.QueueConfig(cfg).RedisOpt(),
		Concurrency:     cfg.Queue.Concurrency,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, services.Documents, log)

	// 启动 worker
	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	<-ctx.Done()

	// 优雅关闭
	log.Info("Shutting down worker...")
	_ = documentWorker.Stop()
	log.Info("Worker stopped")
}
