// Query HTTP handlers.
//
// This file exposes REST endpoints for availability questions:
//   - POST /queries                  (ask the assistant; Idempotency-Key aware)
//   - GET  /queries                  (admin, paginated)
//   - GET  /queries/types
//   - GET  /queries/user/{userId}    (self or admin, weak ETag)
//   - GET  /queries/history          (filters: userId, typeId, startDate, endDate)
//   - GET  /queries/analytics
//   - GET  /queries/{id}             (requester or admin)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// create exists for (user, route, key), the handler returns the recorded
// query with its original status and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/http/middleware"
	"github.com/tbourn/go-calshare-backend/internal/services"
	"github.com/tbourn/go-calshare-backend/internal/utils"
)

//
// DTOs
//

// CreateQueryRequest is the payload of POST /queries. UserIDs lists the
// users whose calendars the question is about.
type CreateQueryRequest struct {
	UserIDs []uint `json:"userId"  example:"2,3"`
	Content string `json:"content" example:"When are we all free for lunch this week?"`
	TypeID  uint   `json:"typeId"  example:"1"`
}

//
// Handlers
//

// CreateQuery godoc
// @ID          createQuery
// @Summary     Ask an availability question
// @Description Reads the caller's and every target's calendar, asks the assistant, and records the question.
// @Description Supports idempotency via the Idempotency-Key header (same key, same result).
// @Tags        Queries
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                        false  "Idempotency key for safe retries"
// @Param       body             body      handlers.CreateQueryRequest   true   "Question"
// @Success     201              {object}  services.CreateQueryResult
// @Failure     400              {object}  handlers.ErrorResponse
// @Failure     404              {object}  handlers.ErrorResponse  "Target user or calendar missing"
// @Failure     500              {object}  handlers.ErrorResponse  "Assistant unavailable"
// @Router      /queries [post]
func (h *Handlers) CreateQuery(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	uid := strconv.FormatUint(uint64(me.UserID), 10)
	scope := middleware.IdempotencyScope(c)
	idemKey, hasKey := middleware.GetIdempotencyKey(c)

	// Replay path.
	if hasKey && h.idem != nil && middleware.IsReplay(c) {
		if h.replayQuery(c, uid, scope, idemKey) {
			return
		}
	}

	var req CreateQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId must be a list of user IDs")
		return
	}

	res, err := h.queries.Create(ctx, services.CreateQueryInput{
		RequesterID: me.UserID,
		TargetIDs:   req.UserIDs,
		Content:     req.Content,
		TypeID:      req.TypeID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Store path, best effort.
	if hasKey && h.idem != nil {
		rid := strconv.FormatUint(uint64(res.Query.ID), 10)
		if err := h.idem.Save(ctx, uid, scope, idemKey, rid, http.StatusCreated, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not saved")
		}
	}

	ok(c, http.StatusCreated, res)
}

// replayQuery writes the previously created query. It reports false when
// the record or the query is gone, so the request is processed normally.
func (h *Handlers) replayQuery(c *gin.Context, uid, scope, key string) bool {
	ctx := c.Request.Context()
	rid, status, found, err := h.idem.Lookup(ctx, uid, scope, key, time.Now().UTC())
	if err != nil || !found {
		return false
	}
	id, err := utils.ParseID(rid)
	if err != nil {
		return false
	}
	q, err := h.queries.Get(ctx, id)
	if err != nil {
		return false
	}
	var answer string
	if q.Result != nil {
		answer = *q.Result
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, status, services.CreateQueryResult{Query: q, AIResult: answer})
	return true
}

// ListQueries godoc
// @ID          listQueries
// @Summary     List all queries (admin)
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       page   query     int  false  "Page number"     minimum(1) default(1)
// @Param       limit  query     int  false  "Items per page"  minimum(1) maximum(100) default(10)
// @Success     200    {object}  services.QueryPage
// @Failure     403    {object}  handlers.ErrorResponse
// @Router      /queries [get]
func (h *Handlers) ListQueries(c *gin.Context) {
	page, limit := pageParams(c)
	out, err := h.queries.List(c.Request.Context(), page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// ListQueryTypes godoc
// @ID          listQueryTypes
// @Summary     List query types
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.QueryType
// @Router      /queries/types [get]
func (h *Handlers) ListQueryTypes(c *gin.Context) {
	types, err := h.queries.ListTypes(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if types == nil {
		types = []domain.QueryType{}
	}
	ok(c, http.StatusOK, types)
}

// ListUserQueries godoc
// @ID          listUserQueries
// @Summary     List a user's queries
// @Description Self or admin. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       userId         path      int     true   "User ID"
// @Param       If-None-Match  header    string  false  "Return 304 if ETag matches"
// @Param       page           query     int     false  "Page number"     minimum(1) default(1)
// @Param       limit          query     int     false  "Items per page"  minimum(1) maximum(100) default(10)
// @Success     200            {object}  services.QueryPage
// @Header      200            {string}  ETag  "Weak ETag for current result"
// @Success     304            {string}  string  "Not Modified"
// @Failure     403            {object}  handlers.ErrorResponse
// @Router      /queries/user/{userId} [get]
func (h *Handlers) ListUserQueries(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	userID, found := pathID(c, "userId")
	if !found {
		return
	}
	if !selfOrAdmin(c, me, userID, "You can only view your own queries") {
		return
	}
	ctx := c.Request.Context()
	page, limit := pageParams(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.queries.Stats(ctx, userID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"queries:%d:%d:%d:%d:%d"`, userID, count, ts, page, limit)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	out, err := h.queries.ListByUser(ctx, userID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// QueryHistory godoc
// @ID          queryHistory
// @Summary     Filtered query history
// @Description Defaults to the caller; other users' history requires ADMIN. A bare endDate includes that whole day.
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       userId     query     int     false  "Requester (defaults to the caller)"
// @Param       typeId     query     int     false  "Query type"
// @Param       startDate  query     string  false  "Inclusive lower bound"  example(2025-01-01)
// @Param       endDate    query     string  false  "Upper bound"            example(2025-01-31)
// @Param       page       query     int     false  "Page number"     minimum(1) default(1)
// @Param       limit      query     int     false  "Items per page"  minimum(1) maximum(100) default(10)
// @Success     200        {object}  services.QueryPage
// @Failure     400        {object}  handlers.ErrorResponse
// @Failure     403        {object}  handlers.ErrorResponse
// @Router      /queries/history [get]
func (h *Handlers) QueryHistory(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	userID, found := queryUint(c, "userId")
	if !found {
		return
	}
	if userID == 0 {
		userID = me.UserID
	}
	if !selfOrAdmin(c, me, userID, "You can only view your own history") {
		return
	}
	typeID, found := queryUint(c, "typeId")
	if !found {
		return
	}
	from, to, found := dateRange(c)
	if !found {
		return
	}

	page, limit := pageParams(c)
	out, err := h.queries.History(c.Request.Context(), services.HistoryFilter{
		UserID: userID,
		TypeID: typeID,
		From:   from,
		To:     to,
	}, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// QueryAnalytics godoc
// @ID          queryAnalytics
// @Summary     Query analytics
// @Description Totals, counts by type, top 5 requesters, and daily counts for the last 7 days.
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       startDate  query     string  false  "Inclusive lower bound"
// @Param       endDate    query     string  false  "Upper bound"
// @Success     200        {object}  services.Analytics
// @Failure     400        {object}  handlers.ErrorResponse
// @Router      /queries/analytics [get]
func (h *Handlers) QueryAnalytics(c *gin.Context) {
	from, to, found := dateRange(c)
	if !found {
		return
	}
	out, err := h.queries.Analytics(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// GetQuery godoc
// @ID          getQuery
// @Summary     Get one query
// @Tags        Queries
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "Query ID"
// @Success     200  {object}  domain.Query
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /queries/{id} [get]
func (h *Handlers) GetQuery(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	id, found := pathID(c, "id")
	if !found {
		return
	}
	q, err := h.queries.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !selfOrAdmin(c, me, q.UserID, "You can only view your own queries") {
		return
	}
	ok(c, http.StatusOK, q)
}
