// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and roles.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user or role is not found, functions return ErrNotFound.
//   - Unique violations on username are reported as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// CreateUser inserts a user with an already hashed password.
func CreateUser(ctx context.Context, db *gorm.DB, username, passwordHash string, roleID uint) (*domain.User, error) {
	u := &domain.User{
		Username:     username,
		PasswordHash: passwordHash,
		RoleID:       roleID,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user with its role preloaded.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Preload("Role").First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by exact username with its role preloaded.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Preload("Role").Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user ordered by id.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).Preload("Role").Order("id ASC").Find(&out).Error
	return out, err
}

// UsernameTaken reports whether another user (id != excludeID) already uses username.
func UsernameTaken(ctx context.Context, db *gorm.DB, username string, excludeID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).
		Where("username = ? AND id <> ?", username, excludeID).
		Count(&n).Error
	return n > 0, err
}

// CountUsersByIDs counts how many of ids exist. Callers pass deduplicated ids.
func CountUsersByIDs(ctx context.Context, db *gorm.DB, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("id IN ?", ids).Count(&n).Error
	return n, err
}

// UpdateUser applies the given column updates. Returns ErrNotFound when no row matched.
func UpdateUser(ctx context.Context, db *gorm.DB, id uint, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if IsDuplicate(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUserCascade removes a user and everything that references it, in
// dependency order:
//
//  1. query_users rows that target the user
//  2. friendships where the user is either party
//  3. query_users rows of queries the user asked
//  4. queries the user asked
//  5. the user's calendar
//  6. the user
//
// It must be called with a transaction handle; on any error the caller rolls
// back and nothing is removed. Returns ErrNotFound when the user row is absent.
func DeleteUserCascade(ctx context.Context, tx *gorm.DB, id uint) error {
	tx = tx.WithContext(ctx)

	if err := tx.Where("user_id = ?", id).Delete(&domain.QueryUser{}).Error; err != nil {
		return err
	}
	if err := tx.Where("requester_id = ? OR receiver_id = ?", id, id).Delete(&domain.Friendship{}).Error; err != nil {
		return err
	}
	owned := tx.Model(&domain.Query{}).Select("id").Where("user_id = ?", id)
	if err := tx.Where("query_id IN (?)", owned).Delete(&domain.QueryUser{}).Error; err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", id).Delete(&domain.Query{}).Error; err != nil {
		return err
	}
	if err := tx.Where("user_id = ?", id).Delete(&domain.Calendar{}).Error; err != nil {
		return err
	}
	res := tx.Delete(&domain.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRole fetches a role by id.
func GetRole(ctx context.Context, db *gorm.DB, id uint) (*domain.Role, error) {
	var r domain.Role
	if err := db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRoleByName fetches a role by its unique name.
func GetRoleByName(ctx context.Context, db *gorm.DB, name string) (*domain.Role, error) {
	var r domain.Role
	err := db.WithContext(ctx).Where("name = ?", name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoles returns all roles ordered by id.
func ListRoles(ctx context.Context, db *gorm.DB) ([]domain.Role, error) {
	var out []domain.Role
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}
