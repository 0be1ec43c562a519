// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, authentication, logging/redaction, panic
// recovery, metrics, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → auth → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/config"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/http/handlers"
	"github.com/tbourn/go-calshare-backend/internal/http/middleware"
	"github.com/tbourn/go-calshare-backend/internal/repo"
	"github.com/tbourn/go-calshare-backend/internal/services"
)

// calendarRepoShim adapts the repository free functions to the
// services.CalendarRepo interface expected by the CalendarService.
type calendarRepoShim struct{}

// CreateCalendar proxies repo.CreateCalendar.
func (calendarRepoShim) CreateCalendar(ctx context.Context, db *gorm.DB, userID uint, a datatypes.JSON) (*domain.Calendar, error) {
	return repo.CreateCalendar(ctx, db, userID, a)
}

// GetCalendar proxies repo.GetCalendar.
func (calendarRepoShim) GetCalendar(ctx context.Context, db *gorm.DB, id uint) (*domain.Calendar, error) {
	return repo.GetCalendar(ctx, db, id)
}

// GetCalendarByUser proxies repo.GetCalendarByUser.
func (calendarRepoShim) GetCalendarByUser(ctx context.Context, db *gorm.DB, userID uint) (*domain.Calendar, error) {
	return repo.GetCalendarByUser(ctx, db, userID)
}

// ListCalendarsByUsers proxies repo.ListCalendarsByUsers.
func (calendarRepoShim) ListCalendarsByUsers(ctx context.Context, db *gorm.DB, ids []uint) ([]domain.Calendar, error) {
	return repo.ListCalendarsByUsers(ctx, db, ids)
}

// CalendarExists proxies repo.CalendarExists.
func (calendarRepoShim) CalendarExists(ctx context.Context, db *gorm.DB, userID uint) (bool, error) {
	return repo.CalendarExists(ctx, db, userID)
}

// ReplaceCalendar proxies repo.ReplaceCalendar.
func (calendarRepoShim) ReplaceCalendar(ctx context.Context, db *gorm.DB, id uint, a datatypes.JSON) error {
	return repo.ReplaceCalendar(ctx, db, id, a)
}

// DeleteCalendar proxies repo.DeleteCalendar.
func (calendarRepoShim) DeleteCalendar(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.DeleteCalendar(ctx, db, id)
}

// idempotencyShim stores idempotency records through package repo.
type idempotencyShim struct{ db *gorm.DB }

// Lookup returns the stored resource for (userID, scope, key), if any.
func (s idempotencyShim) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (string, int, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return rec.ResourceID, rec.Status, true, nil
}

// Save records a completed request. A concurrent duplicate is not an error.
func (s idempotencyShim) Save(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), authentication,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Authenticate: verify bearer tokens so later stages see the caller
//  4. ContextLogger + RedactingLogger: request-scoped, scrubbed logs
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, delegate ai.Delegate, tokens *auth.TokenManager, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Identify the caller; enforcement happens per group below
	r.Use(middleware.Authenticate(tokens))

	// 4) Structured logging with redaction
	r.Use(middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{SkipPaths: []string{"/health", "/metrics"}}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	idem := idempotencyShim{db: db}
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			_, _, found, err := idem.Lookup(ctx, userID, scope, key, now)
			if err != nil {
				return false, nil
			}
			return found, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP; credentials and queries get their own buckets
	authRate := middleware.RatePolicy{RPS: cfg.AuthRate.RPS, Burst: cfg.AuthRate.Burst}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).
		WithRoute(http.MethodPost, routePath(cfg.APIBasePath, "/users/login"), authRate).
		WithRoute(http.MethodPost, routePath(cfg.APIBasePath, "/users/register"), authRate).
		WithRoute(http.MethodPost, routePath(cfg.APIBasePath, "/queries"),
			middleware.RatePolicy{RPS: cfg.QueryRate.RPS, Burst: cfg.QueryRate.Burst})
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/delegate
	userSvc := services.NewUserService(db, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)
	calSvc := services.NewCalendarService(db, calendarRepoShim{}, delegate)
	friendSvc := &services.FriendshipService{DB: db}
	querySvc := services.NewQueryService(db, delegate)

	h := handlers.New(userSvc, calSvc, friendSvc, querySvc).
		WithIdempotency(idem, cfg.IdempotencyTTL).
		WithErrorDetail(!cfg.IsProduction())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Credentials
		api.POST("/users/register", h.Register)
		api.POST("/users/login", h.Login)
	}

	authed := api.Group("", middleware.RequireAuth())
	admin := middleware.RequireRole(domain.RoleAdmin)
	{
		// Users
		authed.GET("/users", h.ListUsers)
		authed.GET("/users/:id", h.GetUser)
		authed.PUT("/users/:id", h.UpdateUser)
		authed.PATCH("/users/:id", h.UpdateUser)
		authed.DELETE("/users/:id", admin, h.DeleteUser)
		authed.PATCH("/users/:id/role", admin, h.ChangeRole)
		authed.GET("/roles", h.ListRoles)

		// Calendars
		authed.GET("/calendar/user/:userId", h.GetCalendar)
		authed.GET("/calendar/users", h.GetCalendars)
		authed.POST("/calendar", h.UploadCalendar)
		authed.PUT("/calendar/:id", h.ReplaceCalendar)
		authed.DELETE("/calendar/:id", h.DeleteCalendar)

		// Queries
		authed.GET("/queries", admin, h.ListQueries)
		authed.POST("/queries", h.CreateQuery)
		authed.GET("/queries/types", h.ListQueryTypes)
		authed.GET("/queries/user/:userId", h.ListUserQueries)
		authed.GET("/queries/history", h.QueryHistory)
		authed.GET("/queries/analytics", h.QueryAnalytics)
		authed.GET("/queries/:id", h.GetQuery)

		// Friends
		authed.POST("/friends/request", h.SendFriendRequest)
		authed.POST("/friends/accept", h.AcceptFriendRequest)
		authed.POST("/friends/decline", h.DeclineFriendRequest)
		authed.DELETE("/friends/remove", h.RemoveFriend)
		authed.GET("/friends/list", h.ListFriends)
		authed.GET("/friends/requests", h.ListFriendRequests)
		authed.GET("/friends/requests/outgoing", h.ListOutgoingFriendRequests)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// routePath is the full Gin path of p when mounted under groupWithPrefix(prefix).
func routePath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return strings.TrimSuffix(prefix, "/") + p
}
