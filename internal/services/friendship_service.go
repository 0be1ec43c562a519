// Package services – FriendshipService
//
// A friendship between two users moves through PENDING to ACCEPTED or
// DECLINED. Any existing row for the pair, in either direction and with any
// status, blocks a new request. Remove hard-deletes an ACCEPTED row so the
// pair can start over.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
)

// PublicUser is the profile of another user shown in friend listings.
type PublicUser struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

func publicUser(u *domain.User, fallbackID uint) PublicUser {
	if u == nil {
		return PublicUser{ID: fallbackID}
	}
	return PublicUser{ID: u.ID, Username: u.Username}
}

// Friend is one accepted friendship seen from the caller's side.
type Friend struct {
	FriendshipID uint       `json:"friendshipId"`
	User         PublicUser `json:"user"`
	Since        time.Time  `json:"since"`
}

// FriendRequest is a pending request with the other party's profile.
type FriendRequest struct {
	ID        uint       `json:"id"`
	User      PublicUser `json:"user"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// FriendshipService owns the friendship state machine.
type FriendshipService struct {
	DB *gorm.DB
}

// Request creates a PENDING request from requesterID to receiverID.
func (s *FriendshipService) Request(ctx context.Context, requesterID, receiverID uint) (*domain.Friendship, error) {
	ctx, span := otel.Tracer("services/FriendshipService").Start(ctx, "Request",
		trace.WithAttributes(
			attribute.Int64("requester.id", int64(requesterID)),
			attribute.Int64("receiver.id", int64(receiverID)),
		),
	)
	defer span.End()

	if receiverID == 0 {
		return nil, validationErr("receiverId is required")
	}
	if requesterID == receiverID {
		return nil, validationErr("cannot send a friend request to yourself")
	}
	if _, err := repo.GetUser(ctx, s.DB, receiverID); err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("user not found")
		}
		return nil, err
	}

	existing, err := repo.FindFriendshipBetween(ctx, s.DB, requesterID, receiverID)
	switch {
	case err == nil:
		return nil, conflictErr("friendship or request already exists (%s)", existing.Status)
	case !isNotFound(err):
		return nil, err
	}

	f, err := repo.CreateFriendship(ctx, s.DB, requesterID, receiverID)
	if err != nil {
		if isDuplicate(err) {
			return nil, conflictErr("friendship or request already exists")
		}
		return nil, err
	}
	return f, nil
}

// Accept moves the pending request from requesterID to receiverID to ACCEPTED.
func (s *FriendshipService) Accept(ctx context.Context, receiverID, requesterID uint) (*domain.Friendship, error) {
	return s.respond(ctx, receiverID, requesterID, domain.FriendshipAccepted)
}

// Decline moves the pending request from requesterID to receiverID to DECLINED.
func (s *FriendshipService) Decline(ctx context.Context, receiverID, requesterID uint) (*domain.Friendship, error) {
	return s.respond(ctx, receiverID, requesterID, domain.FriendshipDeclined)
}

func (s *FriendshipService) respond(ctx context.Context, receiverID, requesterID uint, status domain.FriendshipStatus) (*domain.Friendship, error) {
	ctx, span := otel.Tracer("services/FriendshipService").Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.Int64("receiver.id", int64(receiverID)),
			attribute.Int64("requester.id", int64(requesterID)),
			attribute.String("status", string(status)),
		),
	)
	defer span.End()

	if requesterID == 0 {
		return nil, validationErr("requesterId is required")
	}
	f, err := repo.FindPendingRequest(ctx, s.DB, requesterID, receiverID)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("friend request not found")
		}
		return nil, err
	}
	if err := repo.SetFriendshipStatus(ctx, s.DB, f.ID, status); err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("friend request not found")
		}
		return nil, err
	}
	f.Status = status
	return f, nil
}

// Remove deletes the ACCEPTED friendship between userID and friendID.
func (s *FriendshipService) Remove(ctx context.Context, userID, friendID uint) error {
	if friendID == 0 {
		return validationErr("friendId is required")
	}
	if err := repo.DeleteAcceptedFriendship(ctx, s.DB, userID, friendID); err != nil {
		if isNotFound(err) {
			return notFoundErr("friendship not found")
		}
		return err
	}
	return nil
}

// ListFriends returns the other party of every ACCEPTED friendship of userID.
func (s *FriendshipService) ListFriends(ctx context.Context, userID uint) ([]Friend, error) {
	rows, err := repo.ListAcceptedFriendships(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Friend, 0, len(rows))
	for _, f := range rows {
		other := f.Other(userID)
		u := f.Receiver
		if other == f.RequesterID {
			u = f.Requester
		}
		out = append(out, Friend{FriendshipID: f.ID, User: publicUser(u, other), Since: f.UpdatedAt})
	}
	return out, nil
}

// ListIncomingRequests returns PENDING requests addressed to userID.
func (s *FriendshipService) ListIncomingRequests(ctx context.Context, userID uint) ([]FriendRequest, error) {
	rows, err := repo.ListIncomingRequests(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FriendRequest, 0, len(rows))
	for _, f := range rows {
		out = append(out, FriendRequest{
			ID:        f.ID,
			User:      publicUser(f.Requester, f.RequesterID),
			Status:    string(f.Status),
			CreatedAt: f.CreatedAt,
		})
	}
	return out, nil
}

// ListOutgoingRequests returns PENDING requests sent by userID.
func (s *FriendshipService) ListOutgoingRequests(ctx context.Context, userID uint) ([]FriendRequest, error) {
	rows, err := repo.ListOutgoingRequests(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FriendRequest, 0, len(rows))
	for _, f := range rows {
		out = append(out, FriendRequest{
			ID:        f.ID,
			User:      publicUser(f.Receiver, f.ReceiverID),
			Status:    string(f.Status),
			CreatedAt: f.CreatedAt,
		})
	}
	return out, nil
}
