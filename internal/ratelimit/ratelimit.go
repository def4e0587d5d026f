// Package ratelimit throttles API callers with token buckets keyed by
// session. Calls that submit ledger transactions draw from a second,
// smaller bucket because each one costs the owner a fee.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config sets per-caller budgets.
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	// SubmitsPerMinute bounds POST requests, which may reach the ledger.
	// Zero disables the extra budget.
	SubmitsPerMinute int
	SubmitBurst      int
	// IdleTTL drops buckets unused for this long.
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		SubmitsPerMinute:  12,
		SubmitBurst:       3,
		IdleTTL:           2 * time.Minute,
		CleanupInterval:   time.Minute,
	}
}

// ConfigFor returns DefaultConfig with the given per-minute rate. The burst
// is a sixth of the rate, at least 5; the submit budget is a fifth of it.
func ConfigFor(requestsPerMinute int) Config {
	cfg := DefaultConfig()
	if requestsPerMinute > 0 {
		cfg.RequestsPerMinute = requestsPerMinute
		cfg.BurstSize = max(5, requestsPerMinute/6)
		cfg.SubmitsPerMinute = max(1, requestsPerMinute/5)
		cfg.SubmitBurst = max(1, cfg.BurstSize/3)
	}
	return cfg
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter holds buckets by key.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its cleanup loop. Call Stop to end it.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(l.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	l.mu.Lock()
	for k, b := range l.buckets {
		if b.last.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.mu.Unlock()
}

// Allow takes one token from key's general bucket.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key, l.cfg.RequestsPerMinute, l.cfg.BurstSize)
	return ok
}

// take draws a token from the bucket for key. When empty it reports how
// long until the next token.
func (l *Limiter) take(key string, perMinute, burst int) (bool, time.Duration) {
	if perMinute <= 0 {
		return true, 0
	}
	burst = max(burst, 1)
	rate := float64(perMinute) / 60

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(burst), last: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(burst), b.tokens+now.Sub(b.last).Seconds()*rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware limits by session token, falling back to the client IP for
// anonymous calls. POST requests also spend the submit budget.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerKey(c)

		ok, wait := l.take(key, l.cfg.RequestsPerMinute, l.cfg.BurstSize)
		if ok && c.Request.Method == http.MethodPost && l.cfg.SubmitsPerMinute > 0 {
			ok, wait = l.take("submit|"+key, l.cfg.SubmitsPerMinute, l.cfg.SubmitBurst)
		}
		if !ok {
			secs := max(1, int(math.Ceil(wait.Seconds())))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}

// callerKey hashes the presented token so raw tokens never sit in the map.
func callerKey(c *gin.Context) string {
	token := c.GetHeader("X-Session-Token")
	if token == "" {
		return "ip:" + c.ClientIP()
	}
	sum := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(sum[:8])
}
