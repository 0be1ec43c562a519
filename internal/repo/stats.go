// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// QueriesStats returns the number of queries asked by userID and the newest
// CreatedAt among them. Queries are immutable, so (count, newest) changes
// whenever the user's history does.
//
// When the user has no queries, the returned count is 0 and newest is nil.
func QueriesStats(ctx context.Context, db *gorm.DB, userID uint) (count int64, newest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Query{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
