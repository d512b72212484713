package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/manual-retrieval/api/handlers"
	"github.com/feichai0017/manual-retrieval/api/middleware"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/ratelimit"
)

type Options struct {
	JWTSecret string
	JWTIssuer string
	Limiter   ratelimit.Limiter
	Logger    logger.Logger
}

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, opts Options) {
	// 全局中间件
	r.Use(
		middleware.CORS(),
		middleware.RequestID(),
		middleware.Logger(opts.Logger),
		gin.Recovery(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(opts.JWTSecret, opts.JWTIssuer, opts.Logger))
	if opts.Limiter != nil {
		v1.Use(middleware.RateLimit(opts.Limiter, opts.Logger))
	}

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.DELETE("/:id", h.Document.Delete)
	}

	v1.POST("/ingest", h.Document.Ingest)
	v1.POST("/search", h.Search.Search)
	v1.POST("/extract", h.Document.Extract)
}
