package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/manual-retrieval/api/handlers"
	"github.com/feichai0017/manual-retrieval/api/routes"
	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/internal/app"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/ratelimit"
)

func main() {
	cfg := config.Get()

	// init logger
	log, err := app.NewLogger(&cfg.Log, map[string]interface{}{"service": "api"})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// init services
	services, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialise services", logger.Error(err))
	}
	defer services.Close()

	limiter, err := services.Limiter()
	if err != nil {
		log.Fatal("Failed to create rate limiter", logger.Error(err))
	}
	if m, ok := limiter.(*ratelimit.Memory); ok {
		go m.Run(ctx)
	}

	// init handlers
	gin.SetMode(cfg.Server.Mode)
	h := handlers.NewHandlers(services.Documents, services.Retrieval, log, cfg.Storage.MaxUploadSize)
	r := gin.New()
	routes.SetupRoutes(r, h, routes.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		JWTIssuer: cfg.Auth.Issuer,
		Limiter:   limiter,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
