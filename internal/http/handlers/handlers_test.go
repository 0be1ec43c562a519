package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/http/middleware"
	"github.com/tbourn/go-calshare-backend/internal/repo"
	"github.com/tbourn/go-calshare-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testCalendarRepo implements services.CalendarRepo using package repo (like router.go).
type testCalendarRepo struct{}

func (testCalendarRepo) CreateCalendar(ctx context.Context, db *gorm.DB, userID uint, a datatypes.JSON) (*domain.Calendar, error) {
	return repo.CreateCalendar(ctx, db, userID, a)
}
func (testCalendarRepo) GetCalendar(ctx context.Context, db *gorm.DB, id uint) (*domain.Calendar, error) {
	return repo.GetCalendar(ctx, db, id)
}
func (testCalendarRepo) GetCalendarByUser(ctx context.Context, db *gorm.DB, userID uint) (*domain.Calendar, error) {
	return repo.GetCalendarByUser(ctx, db, userID)
}
func (testCalendarRepo) ListCalendarsByUsers(ctx context.Context, db *gorm.DB, ids []uint) ([]domain.Calendar, error) {
	return repo.ListCalendarsByUsers(ctx, db, ids)
}
func (testCalendarRepo) CalendarExists(ctx context.Context, db *gorm.DB, userID uint) (bool, error) {
	return repo.CalendarExists(ctx, db, userID)
}
func (testCalendarRepo) ReplaceCalendar(ctx context.Context, db *gorm.DB, id uint, a datatypes.JSON) error {
	return repo.ReplaceCalendar(ctx, db, id, a)
}
func (testCalendarRepo) DeleteCalendar(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.DeleteCalendar(ctx, db, id)
}

type idemRec struct {
	resourceID string
	status     int
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]idemRec
}

func (m *memIdem) k(userID, scope, key string) string { return userID + "|" + scope + "|" + key }

func (m *memIdem) Lookup(_ context.Context, userID, scope, key string, _ time.Time) (string, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, found := m.recs[m.k(userID, scope, key)]
	if !found {
		return "", 0, false, nil
	}
	return rec.resourceID, rec.status, true, nil
}

func (m *memIdem) Save(_ context.Context, userID, scope, key, resourceID string, status int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[m.k(userID, scope, key)] = idemRec{resourceID: resourceID, status: status}
	return nil
}

// ---------- environment ----------

type env struct {
	db     *gorm.DB
	r      *gin.Engine
	tokens *auth.TokenManager
	users  *services.UserService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerDB(t)
	tm := auth.NewTokenManager("handler-secret-0123456789", time.Hour, "calshare-test")
	d := ai.NewMock()

	users := services.NewUserService(db, auth.NewPasswordHasher(4), tm)
	cals := services.NewCalendarService(db, testCalendarRepo{}, d)
	friends := &services.FriendshipService{DB: db}
	queries := services.NewQueryService(db, d)

	idem := &memIdem{recs: map[string]idemRec{}}
	h := New(users, cals, friends, queries).WithIdempotency(idem, time.Hour)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Authenticate(tm))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			_, _, found, err := idem.Lookup(ctx, userID, scope, key, now)
			return found, err
		}))

	api := r.Group("/api")
	api.POST("/users/register", h.Register)
	api.POST("/users/login", h.Login)

	authed := api.Group("", middleware.RequireAuth())
	admin := middleware.RequireRole(domain.RoleAdmin)

	authed.GET("/users", h.ListUsers)
	authed.GET("/users/:id", h.GetUser)
	authed.PUT("/users/:id", h.UpdateUser)
	authed.PATCH("/users/:id", h.UpdateUser)
	authed.DELETE("/users/:id", admin, h.DeleteUser)
	authed.PATCH("/users/:id/role", admin, h.ChangeRole)
	authed.GET("/roles", h.ListRoles)

	authed.GET("/calendar/user/:userId", h.GetCalendar)
	authed.GET("/calendar/users", h.GetCalendars)
	authed.POST("/calendar", h.UploadCalendar)
	authed.PUT("/calendar/:id", h.ReplaceCalendar)
	authed.DELETE("/calendar/:id", h.DeleteCalendar)

	authed.GET("/queries", admin, h.ListQueries)
	authed.POST("/queries", h.CreateQuery)
	authed.GET("/queries/types", h.ListQueryTypes)
	authed.GET("/queries/user/:userId", h.ListUserQueries)
	authed.GET("/queries/history", h.QueryHistory)
	authed.GET("/queries/analytics", h.QueryAnalytics)
	authed.GET("/queries/:id", h.GetQuery)

	authed.POST("/friends/request", h.SendFriendRequest)
	authed.POST("/friends/accept", h.AcceptFriendRequest)
	authed.POST("/friends/decline", h.DeclineFriendRequest)
	authed.DELETE("/friends/remove", h.RemoveFriend)
	authed.GET("/friends/list", h.ListFriends)
	authed.GET("/friends/requests", h.ListFriendRequests)
	authed.GET("/friends/requests/outgoing", h.ListOutgoingFriendRequests)

	return &env{db: db, r: r, tokens: tm, users: users}
}

// user registers name and returns its id and a bearer token. Admins are
// promoted before logging in so the token carries the ADMIN role.
func (e *env) user(t *testing.T, name string, admin bool) (uint, string) {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Register(ctx, name, "secret-pw")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if admin {
		var role domain.Role
		if err := e.db.Where("name = ?", domain.RoleAdmin).First(&role).Error; err != nil {
			t.Fatalf("admin role: %v", err)
		}
		if _, err := e.users.ChangeRole(ctx, u.ID, role.ID); err != nil {
			t.Fatalf("promote %s: %v", name, err)
		}
	}
	res, err := e.users.Authenticate(ctx, name, "secret-pw")
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return u.ID, res.Token
}

func (e *env) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T from %q: %v", v, w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code || er.Error == "" || er.RequestID == "" {
		t.Fatalf("envelope = %+v, want code %s", er, code)
	}
	return er
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
