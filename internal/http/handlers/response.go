// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response utilities used across all endpoints: the
// error envelope, the single service-error translation (writeError), and
// helpers for success responses.
//
// Conventions:
//   - All error responses carry an ErrorResponse with `error` always set.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx
//     responses are logged with request context.
//   - `writeError()` is the only place service error kinds become statuses.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "error": "calendar not found",
//	  "code": "not_found",
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/http/middleware"
	"github.com/tbourn/go-calshare-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Human-readable message (safe to show to users)
	Error string `json:"error" example:"calendar not found"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message" example:"Friend removed"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := middleware.RequestIDFrom(c)
	if reqID == "" {
		reqID = c.Writer.Header().Get("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code, RequestID: reqID})
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// writeError translates a service error into the envelope. Unclassified
// errors become 500; their detail is only exposed outside production.
func (h *Handlers) writeError(c *gin.Context, err error) {
	msg := services.PublicMessage(err)
	switch {
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusBadRequest, ErrCodeConflict, msg)
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, msg)
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, msg)
	case errors.Is(err, services.ErrUpstream):
		middleware.LoggerFrom(c).Error().Err(err).Msg("assistant call failed")
		fail(c, http.StatusInternalServerError, ErrCodeUpstream, msg)
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled error")
		detail := http.StatusText(http.StatusInternalServerError)
		if h.exposeErrors {
			detail = err.Error()
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, detail)
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
