package repo

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// CreateCalendar inserts the calendar for userID. A second calendar for the
// same user violates ux_calendars_user and is reported as ErrDuplicate.
func CreateCalendar(ctx context.Context, db *gorm.DB, userID uint, availability datatypes.JSON) (*domain.Calendar, error) {
	c := &domain.Calendar{UserID: userID, Availability: availability}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetCalendar fetches a calendar by id with its owner preloaded.
func GetCalendar(ctx context.Context, db *gorm.DB, id uint) (*domain.Calendar, error) {
	var c domain.Calendar
	if err := db.WithContext(ctx).Preload("User").First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCalendarByUser fetches the calendar owned by userID.
func GetCalendarByUser(ctx context.Context, db *gorm.DB, userID uint) (*domain.Calendar, error) {
	var c domain.Calendar
	if err := db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCalendarsByUsers returns the calendars owned by any of userIDs. Missing
// owners are simply absent from the result.
func ListCalendarsByUsers(ctx context.Context, db *gorm.DB, userIDs []uint) ([]domain.Calendar, error) {
	var out []domain.Calendar
	if len(userIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).Preload("User").Where("user_id IN ?", userIDs).Find(&out).Error
	return out, err
}

// CalendarExists reports whether userID owns a calendar.
func CalendarExists(ctx context.Context, db *gorm.DB, userID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Calendar{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, err
}

// ReplaceCalendar overwrites the availability payload. Returns ErrNotFound if
// the calendar does not exist.
func ReplaceCalendar(ctx context.Context, db *gorm.DB, id uint, availability datatypes.JSON) error {
	res := db.WithContext(ctx).Model(&domain.Calendar{}).Where("id = ?", id).Update("availability", availability)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCalendar removes a calendar by id. Returns ErrNotFound if absent.
func DeleteCalendar(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(&domain.Calendar{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
