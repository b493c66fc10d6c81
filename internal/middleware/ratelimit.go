package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// client holds a per-IP rate limiter and the time it was last seen.
// lastSeen lets us evict old entries so the map does not grow forever.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit implements per-IP token-bucket rate limiting. Each unique
// client IP gets its own limiter; a background goroutine evicts entries
// not seen for 3 minutes.
func RateLimit(rps rate.Limit, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	go func() {
		for {
			time.Sleep(time.Minute)
			mu.Lock()
			for ip, c := range clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(ctx *gin.Context) {
		ip := ctx.ClientIP()

		mu.Lock()
		c, found := clients[ip]
		if !found {
			c = &client{limiter: rate.NewLimiter(rps, burst)}
			clients[ip] = c
		}
		c.lastSeen = time.Now()
		allowed := c.limiter.Allow()
		mu.Unlock()

		if !allowed {
			ctx.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
