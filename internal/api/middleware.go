package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"dexcore/internal/monitor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ipLimiterPool hands out one token bucket per client IP. The whole map is
// reset on a sweep interval so abandoned IPs do not accumulate forever.
type ipLimiterPool struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
	sweepAt   time.Time
	sweepEach time.Duration
}

func newIPLimiterPool(rps float64, burst int) *ipLimiterPool {
	return &ipLimiterPool{
		limiters:  make(map[string]*rate.Limiter),
		rps:       rate.Limit(rps),
		burst:     burst,
		sweepAt:   time.Now(),
		sweepEach: 5 * time.Minute,
	}
}

func (p *ipLimiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.sweepAt) > p.sweepEach {
		p.limiters = make(map[string]*rate.Limiter)
		p.sweepAt = time.Now()
	}

	limiter, ok := p.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(p.rps, p.burst)
		p.limiters[ip] = limiter
	}
	return limiter
}

// CORSMiddleware lets the dashboard frontend call the API from another origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting. Each
// handler chain owns its own limiter pool.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	pool := newIPLimiterPool(rps, burst)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := pool.get(ip)

		if !limiter.Allow() {
			log.Printf("[RATE_LIMIT] IP %s exceeded rate limit", ip)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// TimeoutMiddleware prevents long-running requests from blocking resources
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicChan := make(chan interface{}, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()
			c.Next()
			finished <- struct{}{}
		}()

		select {
		case <-panicChan:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			c.Abort()
		case <-finished:
			return
		case <-ctx.Done():
			log.Printf("[TIMEOUT] %s %s exceeded %v", c.Request.Method, c.Request.URL.Path, timeout)
			c.JSON(http.StatusRequestTimeout, gin.H{
				"error":   "request timeout",
				"message": "request took too long to process",
			})
			c.Abort()
		}
	}
}

// RequestLogger logs all API requests with timing and status; optionally records metrics.
func RequestLogger(metrics *monitor.SystemMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetString("RequestID")
		if len(requestID) > 8 {
			requestID = requestID[:8]
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()

		if metrics != nil {
			metrics.IncrementAPI()
			metrics.APILatency.RecordDuration(latency)
			if statusCode >= 400 {
				metrics.IncrementAPIErrors()
			}
		}

		log.Printf("[API] %s | %s %s | %d | %v | %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			clientIP,
		)
	}
}
