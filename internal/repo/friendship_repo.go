package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
)

// FindFriendshipBetween returns the row for the unordered pair (a, b), in
// either direction and with any status.
func FindFriendshipBetween(ctx context.Context, db *gorm.DB, a, b uint) (*domain.Friendship, error) {
	var f domain.Friendship
	err := db.WithContext(ctx).
		Where("(requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?)", a, b, b, a).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFriendship inserts a PENDING request from requesterID to receiverID.
func CreateFriendship(ctx context.Context, db *gorm.DB, requesterID, receiverID uint) (*domain.Friendship, error) {
	f := &domain.Friendship{
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      domain.FriendshipPending,
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return f, nil
}

// FindPendingRequest returns the PENDING row sent by requesterID to receiverID.
func FindPendingRequest(ctx context.Context, db *gorm.DB, requesterID, receiverID uint) (*domain.Friendship, error) {
	var f domain.Friendship
	err := db.WithContext(ctx).
		Where("requester_id = ? AND receiver_id = ? AND status = ?", requesterID, receiverID, domain.FriendshipPending).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// SetFriendshipStatus moves a PENDING row to status. Returns ErrNotFound when
// the row is missing or no longer pending.
func SetFriendshipStatus(ctx context.Context, db *gorm.DB, id uint, status domain.FriendshipStatus) error {
	res := db.WithContext(ctx).Model(&domain.Friendship{}).
		Where("id = ? AND status = ?", id, domain.FriendshipPending).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAcceptedFriendship hard-deletes the ACCEPTED row between a and b.
func DeleteAcceptedFriendship(ctx context.Context, db *gorm.DB, a, b uint) error {
	res := db.WithContext(ctx).
		Where("status = ? AND ((requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?))",
			domain.FriendshipAccepted, a, b, b, a).
		Delete(&domain.Friendship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAcceptedFriendships returns ACCEPTED rows involving userID with both
// parties preloaded, newest first.
func ListAcceptedFriendships(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Friendship, error) {
	var out []domain.Friendship
	err := db.WithContext(ctx).
		Preload("Requester").Preload("Receiver").
		Where("status = ? AND (requester_id = ? OR receiver_id = ?)", domain.FriendshipAccepted, userID, userID).
		Order("updated_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListIncomingRequests returns PENDING rows addressed to userID with the requester preloaded.
func ListIncomingRequests(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Friendship, error) {
	var out []domain.Friendship
	err := db.WithContext(ctx).
		Preload("Requester").
		Where("receiver_id = ? AND status = ?", userID, domain.FriendshipPending).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListOutgoingRequests returns PENDING rows sent by userID with the receiver preloaded.
func ListOutgoingRequests(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Friendship, error) {
	var out []domain.Friendship
	err := db.WithContext(ctx).
		Preload("Receiver").
		Where("requester_id = ? AND status = ?", userID, domain.FriendshipPending).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
