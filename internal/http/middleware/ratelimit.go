// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket rate limiter. Every caller
// gets a bucket keyed by user id (or client IP when anonymous). Individual
// routes can be given their own, usually stricter, policy: the credential
// endpoints to slow down password guessing, and query creation because each
// call reaches the AI provider.
//
// The limiter is process-local; replicas do not share buckets.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated callers by user id and everyone else by
// client IP. The prefixes keep the two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := CallerID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// keyKind returns the namespace of a bucket key for metrics labels.
func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}

// RatePolicy is a refill rate and bucket size.
type RatePolicy struct {
	RPS   float64
	Burst int
}

func (p RatePolicy) normalized() RatePolicy {
	if p.Burst <= 0 {
		p.Burst = 1
	}
	return p
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one bucket per (policy, caller) pair. Idle buckets are
// dropped after ttl during periodic sweeps. Safe for concurrent use.
type RateLimiter struct {
	def    RatePolicy
	routes map[string]RatePolicy // "METHOD /full/path" -> policy
	keyFn  keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	sweepN   uint64
	now      func() time.Time
}

// NewRateLimiter builds a limiter whose default policy allows rps requests
// per second with the given burst. A burst <= 0 is treated as 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		def:      RatePolicy{RPS: rps, Burst: burst}.normalized(),
		routes:   map[string]RatePolicy{},
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// WithRoute gives method+fullPath (the registered Gin route, including the
// API base path) its own policy. Its buckets are separate from the default
// ones, so a request to that route does not spend default tokens.
func (rl *RateLimiter) WithRoute(method, fullPath string, p RatePolicy) *RateLimiter {
	rl.routes[strings.ToUpper(method)+" "+fullPath] = p.normalized()
	return rl
}

// policyFor returns the policy for the matched route and the bucket prefix.
func (rl *RateLimiter) policyFor(c *gin.Context) (RatePolicy, string) {
	if fp := c.FullPath(); fp != "" {
		scope := c.Request.Method + " " + fp
		if p, ok := rl.routes[scope]; ok {
			return p, scope + "|"
		}
	}
	return rl.def, ""
}

// limiter returns the bucket for key, creating it with p when absent. Every
// 5000 lookups idle buckets are swept first, so a stale entry is replaced
// rather than refreshed.
func (rl *RateLimiter) limiter(key string, p RatePolicy) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepN++
	if rl.sweepN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.sweepN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rate.Limit(p.RPS), p.Burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay, which is served without spending tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter is the whole number of seconds until one token is available,
// at least 1.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	if lim.Limit() <= 0 {
		return 1
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	if s := int(math.Ceil(d.Seconds())); s > 1 {
		return s
	}
	return 1
}

// Handler enforces the limits. Rejected requests get 429 with a Retry-After
// header and the standard error envelope, code "rate_limited".
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		p, prefix := rl.policyFor(c)
		lim := rl.limiter(prefix+key, p)

		now := rl.now()
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(keyKind(key)).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		AbortWithError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
