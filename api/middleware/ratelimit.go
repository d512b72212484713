package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/manual-retrieval/pkg/logger"
	"github.com/feichai0017/manual-retrieval/pkg/ratelimit"
)

// RateLimit rejects callers over their limit with 429. It keys on the owner
// set by Auth, or the client IP without one. Limiter errors let the request
// through.
func RateLimit(l ratelimit.Limiter, log logger.Logger) gin.HandlerFunc {
	log = log.Named("ratelimit")
	return func(c *gin.Context) {
		key := OwnerID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.FromContext(c.Request.Context(), log).Warn("Rate limiter unavailable", logger.Error(err))
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", "60")
			abort(c, http.StatusTooManyRequests, "Too many requests")
			return
		}
		c.Next()
	}
}
