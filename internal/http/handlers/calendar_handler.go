// Calendar HTTP handlers.
//
// This file exposes REST endpoints for availability calendars:
//   - GET    /calendar/user/{userId}
//   - GET    /calendar/users?userIds=1,2
//   - POST   /calendar             (upload free text, converted by the assistant)
//   - PUT    /calendar/{id}        (owner or admin, full replace)
//   - DELETE /calendar/{id}        (owner or admin)
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/utils"
)

//
// DTOs
//

// UploadCalendarRequest is the payload of POST /calendar. UserID defaults to
// the caller; uploading for someone else requires ADMIN.
type UploadCalendarRequest struct {
	UserID        uint   `json:"userId,omitempty" example:"3"`
	CalendarInput string `json:"calendarInput"    example:"Mon-Fri 9-17, busy Wednesday afternoon"`
}

// ReplaceCalendarRequest is the payload of PUT /calendar/{id}.
type ReplaceCalendarRequest struct {
	Availability json.RawMessage `json:"availability" swaggertype:"object"`
}

//
// Handlers
//

// GetCalendar godoc
// @ID          getCalendar
// @Summary     Get a user's calendar
// @Tags        Calendar
// @Produce     json
// @Security    BearerAuth
// @Param       userId  path      int  true  "User ID"
// @Success     200     {object}  domain.Calendar
// @Failure     404     {object}  handlers.ErrorResponse
// @Router      /calendar/user/{userId} [get]
func (h *Handlers) GetCalendar(c *gin.Context) {
	userID, found := pathID(c, "userId")
	if !found {
		return
	}
	cal, err := h.calendars.Get(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, cal)
}

// GetCalendars godoc
// @ID          getCalendars
// @Summary     Get several users' calendars
// @Description Returns 404 naming the users without a calendar when any is missing.
// @Tags        Calendar
// @Produce     json
// @Security    BearerAuth
// @Param       userIds  query     string  true  "Comma-separated user IDs"  example(1,2,3)
// @Success     200      {array}   domain.Calendar
// @Failure     400      {object}  handlers.ErrorResponse
// @Failure     404      {object}  handlers.ErrorResponse
// @Router      /calendar/users [get]
func (h *Handlers) GetCalendars(c *gin.Context) {
	ids, err := utils.ParseIDList(c.Query("userIds"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userIds must be a comma-separated list of positive integers")
		return
	}
	cals, err := h.calendars.GetMany(c.Request.Context(), ids)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, cals)
}

// UploadCalendar godoc
// @ID          uploadCalendar
// @Summary     Upload a calendar
// @Description Converts free-text availability with the assistant and stores it. One calendar per user.
// @Tags        Calendar
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.UploadCalendarRequest  true  "Calendar text"
// @Success     201   {object}  domain.Calendar
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input or calendar already exists"
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     500   {object}  handlers.ErrorResponse  "Assistant unavailable"
// @Router      /calendar [post]
func (h *Handlers) UploadCalendar(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	var req UploadCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	owner := req.UserID
	if owner == 0 {
		owner = me.UserID
	}
	if !selfOrAdmin(c, me, owner, "You can only upload your own calendar") {
		return
	}

	cal, err := h.calendars.Upload(c.Request.Context(), owner, req.CalendarInput)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, cal)
}

// ReplaceCalendar godoc
// @ID          replaceCalendar
// @Summary     Replace a calendar's availability
// @Tags        Calendar
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      int                              true  "Calendar ID"
// @Param       body  body      handlers.ReplaceCalendarRequest  true  "New availability"
// @Success     200   {object}  domain.Calendar
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /calendar/{id} [put]
func (h *Handlers) ReplaceCalendar(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	id, found := pathID(c, "id")
	if !found {
		return
	}
	var req ReplaceCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if len(bytes.TrimSpace(req.Availability)) == 0 || strings.TrimSpace(string(req.Availability)) == "null" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "availability is required")
		return
	}

	ctx := c.Request.Context()
	cal, err := h.calendars.GetByID(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !selfOrAdmin(c, me, cal.UserID, "You can only update your own calendar") {
		return
	}

	updated, err := h.calendars.Replace(ctx, id, req.Availability)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

// DeleteCalendar godoc
// @ID          deleteCalendar
// @Summary     Delete a calendar
// @Tags        Calendar
// @Security    BearerAuth
// @Param       id   path  int  true  "Calendar ID"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /calendar/{id} [delete]
func (h *Handlers) DeleteCalendar(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	id, found := pathID(c, "id")
	if !found {
		return
	}
	ctx := c.Request.Context()
	cal, err := h.calendars.GetByID(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !selfOrAdmin(c, me, cal.UserID, "You can only delete your own calendar") {
		return
	}
	if err := h.calendars.Delete(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}
	noContent(c)
}
