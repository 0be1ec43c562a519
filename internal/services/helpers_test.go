package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
)

// ----- DB -----

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func queryTypeID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var qt domain.QueryType
	if err := db.Where("name = ?", name).First(&qt).Error; err != nil {
		t.Fatalf("query type %s: %v", name, err)
	}
	return qt.ID
}

// ----- Delegate stub -----

type stubDelegate struct {
	convert func(ctx context.Context, text string) (json.RawMessage, error)
	answer  func(ctx context.Context, q string, cals []ai.CalendarEntry) (string, error)

	convertCalls int
	answerCalls  int
	lastEntries  []ai.CalendarEntry
}

func (d *stubDelegate) ConvertCalendarInput(ctx context.Context, text string) (json.RawMessage, error) {
	d.convertCalls++
	if d.convert != nil {
		return d.convert(ctx, text)
	}
	return json.RawMessage(fmt.Sprintf(`{"text":%q}`, text)), nil
}

func (d *stubDelegate) AnswerAvailabilityQuery(ctx context.Context, q string, cals []ai.CalendarEntry) (string, error) {
	d.answerCalls++
	d.lastEntries = cals
	if d.answer != nil {
		return d.answer(ctx, q, cals)
	}
	return "everyone is free on Tuesday", nil
}

var errDelegateDown = errors.New("delegate down")

// ----- Calendar repo backed by package repo -----

type repoCalendars struct{}

func (repoCalendars) CreateCalendar(ctx context.Context, db *gorm.DB, userID uint, a datatypes.JSON) (*domain.Calendar, error) {
	return repo.CreateCalendar(ctx, db, userID, a)
}
func (repoCalendars) GetCalendar(ctx context.Context, db *gorm.DB, id uint) (*domain.Calendar, error) {
	return repo.GetCalendar(ctx, db, id)
}
func (repoCalendars) GetCalendarByUser(ctx context.Context, db *gorm.DB, userID uint) (*domain.Calendar, error) {
	return repo.GetCalendarByUser(ctx, db, userID)
}
func (repoCalendars) ListCalendarsByUsers(ctx context.Context, db *gorm.DB, ids []uint) ([]domain.Calendar, error) {
	return repo.ListCalendarsByUsers(ctx, db, ids)
}
func (repoCalendars) CalendarExists(ctx context.Context, db *gorm.DB, userID uint) (bool, error) {
	return repo.CalendarExists(ctx, db, userID)
}
func (repoCalendars) ReplaceCalendar(ctx context.Context, db *gorm.DB, id uint, a datatypes.JSON) error {
	return repo.ReplaceCalendar(ctx, db, id, a)
}
func (repoCalendars) DeleteCalendar(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.DeleteCalendar(ctx, db, id)
}

// ----- Fixture -----

type fixture struct {
	db        *gorm.DB
	ai        *stubDelegate
	tokens    *auth.TokenManager
	users     *UserService
	calendars *CalendarService
	friends   *FriendshipService
	queries   *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	d := &stubDelegate{}
	tm := auth.NewTokenManager("test-secret-0123456789", time.Hour, "calshare-test")
	return &fixture{
		db:        db,
		ai:        d,
		tokens:    tm,
		users:     NewUserService(db, auth.NewPasswordHasher(4), tm),
		calendars: NewCalendarService(db, repoCalendars{}, d),
		friends:   &FriendshipService{DB: db},
		queries:   NewQueryService(db, d),
	}
}

func (f *fixture) register(t *testing.T, username string) uint {
	t.Helper()
	u, err := f.users.Register(context.Background(), username, "secret-pw")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u.ID
}

func (f *fixture) upload(t *testing.T, userID uint) *domain.Calendar {
	t.Helper()
	c, err := f.calendars.Upload(context.Background(), userID, fmt.Sprintf("user %d is free on weekdays", userID))
	if err != nil {
		t.Fatalf("upload calendar for %d: %v", userID, err)
	}
	return c
}
