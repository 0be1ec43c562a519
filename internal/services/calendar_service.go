// Package services – CalendarService
//
// This file implements the calendar store. Each user owns at most one
// calendar whose availability payload is produced by the AI delegate from
// free text and stored verbatim. Updates replace the payload in full.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/ai"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
	"github.com/tbourn/go-calshare-backend/internal/utils"
)

// CalendarRepo defines the repository contract required by CalendarService.
type CalendarRepo interface {
	// CreateCalendar inserts the calendar for userID; a second one is repo.ErrDuplicate.
	CreateCalendar(ctx context.Context, db *gorm.DB, userID uint, availability datatypes.JSON) (*domain.Calendar, error)

	// GetCalendar fetches a calendar by id.
	GetCalendar(ctx context.Context, db *gorm.DB, id uint) (*domain.Calendar, error)

	// GetCalendarByUser fetches the calendar owned by userID.
	GetCalendarByUser(ctx context.Context, db *gorm.DB, userID uint) (*domain.Calendar, error)

	// ListCalendarsByUsers returns the calendars owned by any of userIDs.
	ListCalendarsByUsers(ctx context.Context, db *gorm.DB, userIDs []uint) ([]domain.Calendar, error)

	// CalendarExists reports whether userID owns a calendar.
	CalendarExists(ctx context.Context, db *gorm.DB, userID uint) (bool, error)

	// ReplaceCalendar overwrites the availability payload.
	ReplaceCalendar(ctx context.Context, db *gorm.DB, id uint, availability datatypes.JSON) error

	// DeleteCalendar removes a calendar by id.
	DeleteCalendar(ctx context.Context, db *gorm.DB, id uint) error
}

// CalendarService manages per-user availability calendars.
type CalendarService struct {
	DB   *gorm.DB
	Repo CalendarRepo
	AI   ai.Delegate

	// MaxInputRunes caps the free text sent to the delegate; 0 disables the cap.
	MaxInputRunes int
}

// NewCalendarService constructs a CalendarService.
func NewCalendarService(db *gorm.DB, r CalendarRepo, d ai.Delegate) *CalendarService {
	return &CalendarService{
		DB:            db,
		Repo:          r,
		AI:            d,
		MaxInputRunes: 8000,
	}
}

// Upload converts rawText with the delegate and stores the result as the
// user's calendar. Nothing is written when the delegate fails.
func (s *CalendarService) Upload(ctx context.Context, userID uint, rawText string) (*domain.Calendar, error) {
	ctx, span := otel.Tracer("services/CalendarService").Start(ctx, "Upload",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return nil, validationErr("calendarInput is required")
	}
	if s.MaxInputRunes > 0 && utf8.RuneCountInString(rawText) > s.MaxInputRunes {
		return nil, validationErr("calendarInput must be at most %d characters", s.MaxInputRunes)
	}
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("user not found")
		}
		return nil, err
	}

	exists, err := s.Repo.CalendarExists(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictErr("calendar already exists for this user")
	}

	payload, err := s.AI.ConvertCalendarInput(ctx, rawText)
	if err != nil {
		span.RecordError(err)
		return nil, upstreamErr(err, "failed to process calendar input")
	}
	if !json.Valid(payload) {
		return nil, upstreamErr(nil, "failed to process calendar input")
	}

	// The unique index on user_id catches an upload that raced the check above.
	c, err := s.Repo.CreateCalendar(ctx, s.DB, userID, datatypes.JSON(payload))
	if err != nil {
		if isDuplicate(err) {
			return nil, conflictErr("calendar already exists for this user")
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("calendar.id", int64(c.ID)))
	return s.Repo.GetCalendar(ctx, s.DB, c.ID)
}

// Get returns the calendar owned by userID.
func (s *CalendarService) Get(ctx context.Context, userID uint) (*domain.Calendar, error) {
	c, err := s.Repo.GetCalendarByUser(ctx, s.DB, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("calendar not found")
		}
		return nil, err
	}
	return c, nil
}

// GetByID returns a calendar by its own id.
func (s *CalendarService) GetByID(ctx context.Context, id uint) (*domain.Calendar, error) {
	c, err := s.Repo.GetCalendar(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("calendar not found")
		}
		return nil, err
	}
	return c, nil
}

// GetMany returns the calendars of userIDs in request order. Every user must
// own a calendar; otherwise the error names the missing ids.
func (s *CalendarService) GetMany(ctx context.Context, userIDs []uint) ([]domain.Calendar, error) {
	ids := utils.DedupeIDs(userIDs)
	if len(ids) == 0 {
		return nil, validationErr("userIds is required")
	}
	cals, err := s.Repo.ListCalendarsByUsers(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	return orderCalendars(ids, cals)
}

// orderCalendars arranges cals to follow ids, failing when any id is absent.
func orderCalendars(ids []uint, cals []domain.Calendar) ([]domain.Calendar, error) {
	byUser := make(map[uint]domain.Calendar, len(cals))
	for _, c := range cals {
		byUser[c.UserID] = c
	}
	out := make([]domain.Calendar, 0, len(ids))
	var missing []uint
	for _, id := range ids {
		c, ok := byUser[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, c)
	}
	if len(missing) > 0 {
		return nil, notFoundErr("calendars not found for users: %s", joinIDs(missing))
	}
	return out, nil
}

// Replace overwrites the calendar's availability. There is no merge.
func (s *CalendarService) Replace(ctx context.Context, id uint, availability json.RawMessage) (*domain.Calendar, error) {
	ctx, span := otel.Tracer("services/CalendarService").Start(ctx, "Replace",
		trace.WithAttributes(attribute.Int64("calendar.id", int64(id))),
	)
	defer span.End()

	trimmed := bytes.TrimSpace(availability)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, validationErr("availability is required")
	}
	if !json.Valid(trimmed) {
		return nil, validationErr("availability must be valid JSON")
	}
	if err := s.Repo.ReplaceCalendar(ctx, s.DB, id, datatypes.JSON(trimmed)); err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("calendar not found")
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// Delete removes a calendar by id.
func (s *CalendarService) Delete(ctx context.Context, id uint) error {
	if err := s.Repo.DeleteCalendar(ctx, s.DB, id); err != nil {
		if isNotFound(err) {
			return notFoundErr("calendar not found")
		}
		return err
	}
	return nil
}
