package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// QueryFilter narrows query listings and aggregates. Nil fields are ignored.
// From is inclusive, To is exclusive.
type QueryFilter struct {
	UserID *uint
	TypeID *uint
	From   *time.Time
	To     *time.Time
}

func (f QueryFilter) apply(db *gorm.DB) *gorm.DB {
	if f.UserID != nil {
		db = db.Where("queries.user_id = ?", *f.UserID)
	}
	if f.TypeID != nil {
		db = db.Where("queries.type_id = ?", *f.TypeID)
	}
	if f.From != nil {
		db = db.Where("queries.created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		db = db.Where("queries.created_at < ?", f.To.UTC())
	}
	return db
}

// TypeCount is one row of the per-type aggregate.
type TypeCount struct {
	TypeID uint   `json:"typeId"`
	Name   string `json:"name"`
	Count  int64  `json:"count"`
}

// UserCount is one row of the per-requester aggregate.
type UserCount struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// CreateQuery inserts q. CreatedAt is set to UTC now when unset.
func CreateQuery(ctx context.Context, db *gorm.DB, q *domain.Query) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("User", "Type", "Targets").Create(q).Error
}

// CreateQueryTargets inserts one query_users row per user id.
func CreateQueryTargets(ctx context.Context, db *gorm.DB, queryID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]domain.QueryUser, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.QueryUser{QueryID: queryID, UserID: id})
	}
	return db.WithContext(ctx).Omit("User").Create(&rows).Error
}

func withQueryAssociations(db *gorm.DB) *gorm.DB {
	return db.Preload("User").Preload("Type").Preload("Targets.User")
}

// GetQuery fetches a query with requester, type and targets preloaded.
func GetQuery(ctx context.Context, db *gorm.DB, id uint) (*domain.Query, error) {
	var q domain.Query
	if err := withQueryAssociations(db.WithContext(ctx)).First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// CountQueries returns the number of queries matching f.
func CountQueries(ctx context.Context, db *gorm.DB, f QueryFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Query{})).Count(&n).Error
	return n, err
}

// ListQueriesPage returns a newest-first page of queries matching f.
func ListQueriesPage(ctx context.Context, db *gorm.DB, f QueryFilter, offset, limit int) ([]domain.Query, error) {
	var out []domain.Query
	q := f.apply(db.WithContext(ctx).Model(&domain.Query{}))
	err := withQueryAssociations(q).
		Order("queries.created_at DESC, queries.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountQueriesByType groups matching queries by type, largest first.
func CountQueriesByType(ctx context.Context, db *gorm.DB, f QueryFilter) ([]TypeCount, error) {
	var out []TypeCount
	q := f.apply(db.WithContext(ctx).Model(&domain.Query{}))
	err := q.Select("queries.type_id AS type_id, query_types.name AS name, COUNT(*) AS count").
		Joins("JOIN query_types ON query_types.id = queries.type_id").
		Group("queries.type_id, query_types.name").
		Order("count DESC, queries.type_id ASC").
		Scan(&out).Error
	return out, err
}

// TopRequesters returns the n users who asked the most matching queries.
// Ties are broken by user id.
func TopRequesters(ctx context.Context, db *gorm.DB, f QueryFilter, n int) ([]UserCount, error) {
	var out []UserCount
	q := f.apply(db.WithContext(ctx).Model(&domain.Query{}))
	err := q.Select("queries.user_id AS user_id, users.username AS username, COUNT(*) AS count").
		Joins("JOIN users ON users.id = queries.user_id").
		Group("queries.user_id, users.username").
		Order("count DESC, queries.user_id ASC").
		Limit(n).
		Scan(&out).Error
	return out, err
}

// QueryTimesSince returns the creation time of every query at or after since.
// Bucketing by day happens in Go so the same code runs on SQLite and Postgres.
func QueryTimesSince(ctx context.Context, db *gorm.DB, since time.Time) ([]time.Time, error) {
	var rows []domain.Query
	err := db.WithContext(ctx).
		Select("created_at").
		Where("created_at >= ?", since.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.CreatedAt)
	}
	return out, nil
}

// GetQueryType fetches a query type by id.
func GetQueryType(ctx context.Context, db *gorm.DB, id uint) (*domain.QueryType, error) {
	var qt domain.QueryType
	if err := db.WithContext(ctx).First(&qt, id).Error; err != nil {
		return nil, err
	}
	return &qt, nil
}

// ListQueryTypes returns all query types ordered by id.
func ListQueryTypes(ctx context.Context, db *gorm.DB) ([]domain.QueryType, error) {
	var out []domain.QueryType
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}
