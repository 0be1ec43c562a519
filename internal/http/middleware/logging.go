// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and request-scoped logging. Expected
// chain order: RequestID, Authenticate, ContextLogger, RedactingLogger,
// Recovery. ContextLogger runs after Authenticate so every line a handler or
// service writes carries the caller's user id.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// Longer client ids are replaced rather than truncated.
	maxRequestIDLength = 128
)

// RequestID reuses the client's X-Request-ID when present and sane, or mints
// a UUIDv4. The id is echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if n := len(rid); n == 0 || n > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return asString(c.Value(requestIDKey))
}

// routeOf is the registered route pattern, or the raw path when nothing matched.
func routeOf(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return c.Request.URL.Path
}

// ContextLogger derives a logger with request_id, user_id, method and path
// and stores it both on the Gin context and on the request context, where
// services pick it up with log.Ctx(ctx).
func ContextLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("user_id", CallerID(c)).
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

// LoggerFrom returns the logger stored by ContextLogger, falling back to the
// global logger.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := c.Value(loggerKey).(*zerolog.Logger); ok {
		return lg
	}
	l := log.Logger
	return &l
}

// Recovery turns a panic into a logged stack trace and, when nothing has been
// written yet, a 500 envelope with code "internal_error".
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Str("request_id", rid).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			AbortWithError(c, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
		}()
		c.Next()
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
