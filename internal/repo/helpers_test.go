package repo

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// newTestDB opens a private in-memory database. When migrate is true the
// full migration set runs, seeding roles and query types.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
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
	if migrate {
		if err := Migrate(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}

func roleID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var r domain.Role
	if err := db.Where("name = ?", name).First(&r).Error; err != nil {
		t.Fatalf("role %s: %v", name, err)
	}
	return r.ID
}

func typeID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var qt domain.QueryType
	if err := db.Where("name = ?", name).First(&qt).Error; err != nil {
		t.Fatalf("query type %s: %v", name, err)
	}
	return qt.ID
}

func seedUser(t *testing.T, db *gorm.DB, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, PasswordHash: "x", RoleID: roleID(t, db, domain.RoleUser)}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}
