package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// RL 按客户端 IP 维护令牌桶，长时间未出现的 IP 会被 gc 回收。
type RL struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

// Allow 报告该 key 此刻是否还有令牌。
func (rl *RL) Allow(key string) bool {
	rl.mu.Lock()
	kl, ok := rl.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(rl.r, rl.b)}
		rl.m[key] = kl
	}
	kl.seen = time.Now()
	rl.mu.Unlock()
	return kl.lim.Allow()
}

func (rl *RL) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.m {
		if now.Sub(v.seen) > rl.ttl {
			delete(rl.m, k)
		}
	}
}

func (rl *RL) gc(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// Stop 停止 GC goroutine，用于优雅停服。
func (rl *RL) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// RateLimit 返回按客户端 IP 限速的中间件，exempt 中的路径（如探活、指标）不计数。
// 返回的 *RL 需要在停服时 Stop。
func RateLimit(r rate.Limit, burst int, exempt ...string) (gin.HandlerFunc, *RL) {
	rl := NewRateLimiter(r, burst, 2*time.Minute)
	go rl.gc(30 * time.Second)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !rl.Allow(clientIP(c.Request.RemoteAddr)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}, rl
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
