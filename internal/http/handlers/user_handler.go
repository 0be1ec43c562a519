// User HTTP handlers.
//
// This file exposes REST endpoints for accounts:
//   - POST   /users/register    (public)
//   - POST   /users/login       (public)
//   - GET    /users, /users/{id}
//   - PUT    /users/{id}        (self or admin; PATCH is an alias)
//   - DELETE /users/{id}        (admin, cascading)
//   - PATCH  /users/{id}/role   (admin)
//   - GET    /roles
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calshare-backend/internal/services"
)

//
// DTOs
//

// CredentialsRequest is the payload of register and login.
type CredentialsRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"correct-horse"`
}

// UpdateUserRequest carries optional profile changes.
type UpdateUserRequest struct {
	Username *string `json:"username,omitempty" example:"alice2"`
	Password *string `json:"password,omitempty" example:"new-secret"`
	RoleID   *uint   `json:"roleId,omitempty"   example:"2"`
}

// ChangeRoleRequest is the payload of the role endpoint.
type ChangeRoleRequest struct {
	RoleID uint `json:"roleId" example:"1"`
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Register a user
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     201   {object}  services.RegisteredUser
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input or username taken"
// @Router      /users/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Returns a bearer token. The error never reveals whether the username exists.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     200   {object}  services.LoginResult
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid username or password"
// @Router      /users/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.User
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, users)
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "User ID"
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	id, found := pathID(c, "id")
	if !found {
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update a user
// @Description Self or admin. Only admins may change roleId.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      int                          true  "User ID"
// @Param       body  body      handlers.UpdateUserRequest   true  "Fields to change"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /users/{id} [put]
func (h *Handlers) UpdateUser(c *gin.Context) {
	me, authed := caller(c)
	if !authed {
		return
	}
	id, found := pathID(c, "id")
	if !found {
		return
	}
	if !selfOrAdmin(c, me, id, "You can only update your own profile") {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.RoleID != nil && !me.IsAdmin() {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "Only admins can change roles")
		return
	}

	u, err := h.users.Update(c.Request.Context(), id, services.UserUpdate{
		Username: req.Username,
		Password: req.Password,
		RoleID:   req.RoleID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Delete a user and everything they own
// @Tags        Users
// @Security    BearerAuth
// @Param       id   path  int  true  "User ID"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	id, found := pathID(c, "id")
	if !found {
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	noContent(c)
}

// ChangeRole godoc
// @ID          changeRole
// @Summary     Change a user's role
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      int                         true  "User ID"
// @Param       body  body      handlers.ChangeRoleRequest  true  "Role"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /users/{id}/role [patch]
func (h *Handlers) ChangeRole(c *gin.Context) {
	id, found := pathID(c, "id")
	if !found {
		return
	}
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.ChangeRole(c.Request.Context(), id, req.RoleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// ListRoles godoc
// @ID          listRoles
// @Summary     List roles
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.Role
// @Router      /roles [get]
func (h *Handlers) ListRoles(c *gin.Context) {
	roles, err := h.users.ListRoles(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	ok(c, http.StatusOK, roles)
}
