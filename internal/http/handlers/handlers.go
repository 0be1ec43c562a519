// Package handlers exposes the REST endpoints of the calendar-sharing API.
//
// Handlers are transport-thin: they bind and validate input, enforce
// ownership rules that depend on the caller, call application services, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/http/middleware"
	"github.com/tbourn/go-calshare-backend/internal/services"
	"github.com/tbourn/go-calshare-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService defines account operations consumed by HTTP handlers.
type UserService interface {
	Register(ctx context.Context, username, password string) (*services.RegisteredUser, error)
	Authenticate(ctx context.Context, username, password string) (*services.LoginResult, error)
	Get(ctx context.Context, id uint) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)
	Update(ctx context.Context, id uint, in services.UserUpdate) (*domain.User, error)
	ChangeRole(ctx context.Context, id, roleID uint) (*domain.User, error)
	Delete(ctx context.Context, id uint) error
}

// CalendarService defines calendar operations consumed by HTTP handlers.
type CalendarService interface {
	Upload(ctx context.Context, userID uint, rawText string) (*domain.Calendar, error)
	Get(ctx context.Context, userID uint) (*domain.Calendar, error)
	GetByID(ctx context.Context, id uint) (*domain.Calendar, error)
	GetMany(ctx context.Context, userIDs []uint) ([]domain.Calendar, error)
	Replace(ctx context.Context, id uint, availability json.RawMessage) (*domain.Calendar, error)
	Delete(ctx context.Context, id uint) error
}

// FriendshipService defines friendship operations consumed by HTTP handlers.
type FriendshipService interface {
	Request(ctx context.Context, requesterID, receiverID uint) (*domain.Friendship, error)
	Accept(ctx context.Context, receiverID, requesterID uint) (*domain.Friendship, error)
	Decline(ctx context.Context, receiverID, requesterID uint) (*domain.Friendship, error)
	Remove(ctx context.Context, userID, friendID uint) error
	ListFriends(ctx context.Context, userID uint) ([]services.Friend, error)
	ListIncomingRequests(ctx context.Context, userID uint) ([]services.FriendRequest, error)
	ListOutgoingRequests(ctx context.Context, userID uint) ([]services.FriendRequest, error)
}

// QueryService defines availability-query operations consumed by HTTP handlers.
type QueryService interface {
	Create(ctx context.Context, in services.CreateQueryInput) (*services.CreateQueryResult, error)
	Get(ctx context.Context, id uint) (*domain.Query, error)
	List(ctx context.Context, page, limit int) (*services.QueryPage, error)
	ListByUser(ctx context.Context, userID uint, page, limit int) (*services.QueryPage, error)
	History(ctx context.Context, f services.HistoryFilter, page, limit int) (*services.QueryPage, error)
	Stats(ctx context.Context, userID uint) (int64, *time.Time, error)
	ListTypes(ctx context.Context) ([]domain.QueryType, error)
	Analytics(ctx context.Context, from, to *time.Time) (*services.Analytics, error)
}

// IdempotencyStore records completed POSTs so retries with the same
// Idempotency-Key return the original resource.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string, now time.Time) (resourceID string, status int, found bool, err error)
	Save(ctx context.Context, userID, scope, key, resourceID string, status int, ttl time.Duration) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for users, calendars, friends and queries.
type Handlers struct {
	users     UserService
	calendars CalendarService
	friends   FriendshipService
	queries   QueryService

	idem    IdempotencyStore
	idemTTL time.Duration

	// exposeErrors puts unclassified error detail in 500 bodies.
	exposeErrors bool
}

// New constructs a Handlers instance bound to the given services.
func New(users UserService, calendars CalendarService, friends FriendshipService, queries QueryService) *Handlers {
	return &Handlers{users: users, calendars: calendars, friends: friends, queries: queries}
}

// WithIdempotency enables Idempotency-Key replay on query creation.
func (h *Handlers) WithIdempotency(store IdempotencyStore, ttl time.Duration) *Handlers {
	h.idem, h.idemTTL = store, ttl
	return h
}

// WithErrorDetail controls whether 500 responses carry the error text.
// Production deployments leave it off.
func (h *Handlers) WithErrorDetail(on bool) *Handlers {
	h.exposeErrors = on
	return h
}

//
// Helpers
//

// caller returns the authenticated identity. Routes using it sit behind
// RequireAuth, so a missing identity is answered with 401.
func caller(c *gin.Context) (auth.Identity, bool) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, middleware.MsgTokenRequired)
		return auth.Identity{}, false
	}
	return id, true
}

// selfOrAdmin admits the owner of a resource or an admin, writing 403 otherwise.
func selfOrAdmin(c *gin.Context, id auth.Identity, ownerID uint, msg string) bool {
	if id.UserID == ownerID || id.IsAdmin() {
		return true
	}
	fail(c, http.StatusForbidden, ErrCodeForbidden, msg)
	return false
}

// pathID parses a positive integer path parameter, writing 400 on failure.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := utils.ParseID(c.Param(name))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryUint parses an optional positive integer query parameter.
func queryUint(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	id, err := utils.ParseID(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// pageParams reads page and limit; clamping happens in the service.
func pageParams(c *gin.Context) (page, limit int) {
	return utils.AtoiDefault(c.Query("page"), 1), utils.AtoiDefault(c.Query("limit"), services.DefaultPageLimit)
}

const dateOnly = "2006-01-02"

// dateRange reads startDate and endDate. Both accept RFC 3339 or a bare
// date; a bare endDate covers that whole day.
func dateRange(c *gin.Context) (from, to *time.Time, ok bool) {
	parse := func(name string, endOfDay bool) (*time.Time, bool) {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			return nil, true
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			return &t, true
		}
		t, err := time.Parse(dateOnly, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be YYYY-MM-DD or RFC 3339")
			return nil, false
		}
		if endOfDay {
			t = t.Add(24 * time.Hour)
		}
		return &t, true
	}
	if from, ok = parse("startDate", false); !ok {
		return nil, nil, false
	}
	if to, ok = parse("endDate", true); !ok {
		return nil, nil, false
	}
	return from, to, true
}
