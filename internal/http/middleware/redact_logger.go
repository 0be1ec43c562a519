// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the access logger. Bodies are never logged: they carry
// passwords, calendar text and query prompts. What is logged (query string
// and request headers) goes through a scrubber first.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// RedactOptions tunes RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced wholesale, in addition to Authorization,
	// Cookie, Set-Cookie and Idempotency-Key. Case-insensitive.
	MaskHeaders []string
	// SkipPaths are not logged at all (e.g. /health, /metrics).
	SkipPaths []string
}

// Patterns run in order. UUIDs go before phones, otherwise the digit groups
// of a UUID look like a phone number. JWTs go first so their base64 segments
// never reach the other patterns.
var scrubPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`), "[REDACTED:jwt]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func scrub(s string) string {
	for _, p := range scrubPatterns {
		if s == "" {
			break
		}
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func lowerSet(base []string, extra ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, s := range append(base, extra...) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// RedactingLogger writes one access log line per request: info for 2xx/3xx,
// warn for 4xx, error for 5xx. The path is the registered route when one
// matched.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := lowerSet([]string{"authorization", "cookie", "set-cookie", strings.ToLower(HeaderIdempotencyKey)}, opts.MaskHeaders...)
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()

		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers.Str(k, redacted)
				continue
			}
			headers.Str(k, scrub(strings.Join(vv, ", ")))
		}
		query := scrub(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}

		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}

		ev.Str("request_id", rid).
			Str("user_id", CallerID(c)).
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}
