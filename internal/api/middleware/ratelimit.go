package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// NewRateLimiter creates a per-client-IP rate limiting middleware allowing
// requests per period. It guards the unauthenticated register endpoint.
func NewRateLimiter(requests int64, period time.Duration) gin.HandlerFunc {
	rate := limiter.Rate{
		Period: period,
		Limit:  requests,
	}
	instance := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(instance)
}
