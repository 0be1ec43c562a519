// Friendship HTTP handlers.
//
// This file exposes REST endpoints for the friendship graph. The caller is
// always one side of the pair:
//   - POST   /friends/request            {receiverId}
//   - POST   /friends/accept, /decline   {requesterId}
//   - DELETE /friends/remove             {friendId}
//   - GET    /friends/list, /friends/requests, /friends/requests/outgoing
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

//
// DTOs
//

// FriendRequestBody is the payload of POST /friends/request.
type FriendRequestBody struct {
	ReceiverID uint `json:"receiverId" example:"4"`
}

// RespondRequestBody is the payload of accept and decline.
type RespondRequestBody struct {
	RequesterID uint `json:"requesterId" example:"2"`
}

// RemoveFriendBody is the payload of DELETE /friends/remove.
type RemoveFriendBody struct {
	FriendID uint `json:"friendId" example:"4"`
}

//
// Handlers
//

// SendFriendRequest godoc
// @ID          sendFriendRequest
// @Summary     Send a friend request
// @Description Fails with a conflict when any friendship row already exists between the two users, in either direction.
// @Tags        Friends
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.FriendRequestBody  true  "Receiver"
// @Success     201   {object}  domain.Friendship
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /friends/request [post]
func (h *Handlers) SendFriendRequest(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	var req FriendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	f, err := h.friends.Request(c.Request.Context(), me.UserID, req.ReceiverID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, f)
}

// AcceptFriendRequest godoc
// @ID          acceptFriendRequest
// @Summary     Accept a pending request addressed to the caller
// @Tags        Friends
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.RespondRequestBody  true  "Requester"
// @Success     200   {object}  domain.Friendship
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /friends/accept [post]
func (h *Handlers) AcceptFriendRequest(c *gin.Context) {
	h.respond(c, true)
}

// DeclineFriendRequest godoc
// @ID          declineFriendRequest
// @Summary     Decline a pending request addressed to the caller
// @Tags        Friends
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.RespondRequestBody  true  "Requester"
// @Success     200   {object}  domain.Friendship
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /friends/decline [post]
func (h *Handlers) DeclineFriendRequest(c *gin.Context) {
	h.respond(c, false)
}

func (h *Handlers) respond(c *gin.Context, accept bool) {
	me, authed := caller(c)
	if !authed {
		return
	}
	var req RespondRequestBody
	if err := c.ShouldBindJSON(&req); err != nil || req.RequesterID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "requesterId is required")
		return
	}
	ctx := c.Request.Context()
	respondFn := h.friends.Decline
	if accept {
		respondFn = h.friends.Accept
	}
	f, err := respondFn(ctx, me.UserID, req.RequesterID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, f)
}

// RemoveFriend godoc
// @ID          removeFriend
// @Summary     Remove an accepted friend
// @Tags        Friends
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.RemoveFriendBody  true  "Friend"
// @Success     200   {object}  handlers.MessageResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /friends/remove [delete]
func (h *Handlers) RemoveFriend(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	var req RemoveFriendBody
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "friendId is required")
		return
	}
	if err := h.friends.Remove(c.Request.Context(), me.UserID, req.FriendID); err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "Friend removed"})
}

// ListFriends godoc
// @ID          listFriends
// @Summary     List the caller's friends
// @Tags        Friends
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  services.Friend
// @Router      /friends/list [get]
func (h *Handlers) ListFriends(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	out, err := h.friends.ListFriends(c.Request.Context(), me.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ListFriendRequests godoc
// @ID          listFriendRequests
// @Summary     List pending requests addressed to the caller
// @Tags        Friends
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  services.FriendRequest
// @Router      /friends/requests [get]
func (h *Handlers) ListFriendRequests(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	out, err := h.friends.ListIncomingRequests(c.Request.Context(), me.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ListOutgoingFriendRequests godoc
// @ID          listOutgoingFriendRequests
// @Summary     List pending requests sent by the caller
// @Tags        Friends
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  services.FriendRequest
// @Router      /friends/requests/outgoing [get]
func (h *Handlers) ListOutgoingFriendRequests(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	out, err := h.friends.ListOutgoingRequests(c.Request.Context(), me.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}
