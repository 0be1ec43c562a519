// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication in two steps:
//
//   - Authenticate() runs globally. It decodes the token when present and
//     records the outcome, but never rejects a request. A valid token stores
//     the caller's identity and sets "userID" for rate limiting and logs.
//   - RequireAuth() and RequireRole() are attached to protected route groups
//     and turn the recorded outcome into 401 (no token) or 403 (bad token,
//     missing role).
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/auth"
)

// Messages returned by the gate. Clients match on them.
const (
	MsgTokenRequired = "Authentication token required"
	MsgTokenInvalid  = "Invalid or expired token"
	MsgForbidden     = "Insufficient permissions"
)

const (
	ctxKeyIdentity  = "auth.identity"
	ctxKeyAuthState = "auth.state"
	ctxKeyUserID    = "userID"
)

type authState int

const (
	authMissing authState = iota
	authInvalid
	authOK
)

// TokenVerifier decodes a raw bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Authenticate decodes the Authorization header with v. It records whether
// the token was missing, invalid, or valid, and always calls the next handler.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		switch {
		case raw == "":
			c.Set(ctxKeyAuthState, authMissing)
		default:
			id, err := v.Verify(raw)
			if err != nil {
				authFailures.WithLabelValues("invalid_token").Inc()
				c.Set(ctxKeyAuthState, authInvalid)
				break
			}
			c.Set(ctxKeyAuthState, authOK)
			c.Set(ctxKeyIdentity, id)
			c.Set(ctxKeyUserID, strconv.FormatUint(uint64(id.UserID), 10))
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid token: 401 when no token was
// sent, 403 when it could not be verified.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, _ := c.Get(ctxKeyAuthState)
		switch state {
		case authOK:
			c.Next()
		case authInvalid:
			AbortWithError(c, http.StatusForbidden, "invalid_token", MsgTokenInvalid)
		default:
			authFailures.WithLabelValues("missing_token").Inc()
			AbortWithError(c, http.StatusUnauthorized, "unauthorized", MsgTokenRequired)
		}
	}
}

// RequireRole admits only callers whose role is one of roles. It assumes
// RequireAuth ran earlier in the chain.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, "unauthorized", MsgTokenRequired)
			return
		}
		for _, r := range roles {
			if strings.EqualFold(id.Role, r) {
				c.Next()
				return
			}
		}
		authFailures.WithLabelValues("forbidden_role").Inc()
		AbortWithError(c, http.StatusForbidden, "forbidden", MsgForbidden)
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// SetIdentity stores id as the authenticated caller. Handler tests use it to
// bypass token parsing.
func SetIdentity(c *gin.Context, id auth.Identity) {
	c.Set(ctxKeyAuthState, authOK)
	c.Set(ctxKeyIdentity, id)
	c.Set(ctxKeyUserID, strconv.FormatUint(uint64(id.UserID), 10))
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// AbortWithError writes the JSON error envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, code, msg string) {
	rid := RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get(requestIDHeader)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": rid,
	})
}
