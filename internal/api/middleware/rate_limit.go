package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"visaconnect-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

// RateLimiter records a hit on key and reports whether it stays within limit.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type RateLimitMiddleware struct {
	limiter RateLimiter
}

func NewRateLimitMiddleware(limiter RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
	}
}

// RateLimit limits authenticated callers per endpoint. It must run after RequireAuth.
func (rm *RateLimitMiddleware) RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "")
			return
		}

		key := fmt.Sprintf("rate_limit:%s:%s", userID, c.FullPath())
		rm.check(c, key, requests, window)
	}
}

// RateLimitIP limits public routes per client IP.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.FullPath())
		rm.check(c, key, requests, window)
	}
}

func (rm *RateLimitMiddleware) check(c *gin.Context, key string, requests int, window time.Duration) {
	allowed, err := rm.limiter.CheckRateLimit(c.Request.Context(), key, requests, window)
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "rate limit check failed")
		return
	}

	if !allowed {
		response.Error(c, http.StatusTooManyRequests, response.ErrCodeTooManyRequests,
			fmt.Sprintf("too many requests, limit is %d per %v", requests, window))
		return
	}

	c.Next()
}
