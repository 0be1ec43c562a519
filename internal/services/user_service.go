// Package services – UserService
//
// This file implements the credential store: registration, login, profile
// reads and updates, role changes, and the cascading account purge.
// Passwords are bcrypt-hashed; successful logins return a signed token.
package services

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/auth"
	"github.com/tbourn/go-calshare-backend/internal/domain"
	"github.com/tbourn/go-calshare-backend/internal/repo"
)

// loginFailed is the single message for every failed login, so responses do
// not reveal whether the username exists.
const loginFailed = "invalid username or password"

// TokenIssuer signs tokens for authenticated users.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// RegisteredUser is returned by Register.
type RegisteredUser struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// SessionUser is the user summary embedded in a login response.
type SessionUser struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResult is returned by Authenticate.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      SessionUser `json:"user"`
}

// UserUpdate lists optional profile changes; nil fields are left unchanged.
type UserUpdate struct {
	Username *string
	Password *string
	RoleID   *uint
}

func (u UserUpdate) empty() bool {
	return u.Username == nil && u.Password == nil && u.RoleID == nil
}

// UserService owns user accounts.
type UserService struct {
	DB     *gorm.DB
	Hasher PasswordHasher
	Tokens TokenIssuer

	MinUsernameRunes int
	MinPasswordLen   int

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService with the default length rules.
func NewUserService(db *gorm.DB, hasher PasswordHasher, tokens TokenIssuer) *UserService {
	return &UserService{
		DB:               db,
		Hasher:           hasher,
		Tokens:           tokens,
		MinUsernameRunes: 3,
		MinPasswordLen:   6,
	}
}

func normalizeUsername(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func (s *UserService) validateUsername(name string) error {
	if utf8.RuneCountInString(name) < s.MinUsernameRunes {
		return validationErr("username must be at least %d characters", s.MinUsernameRunes)
	}
	if utf8.RuneCountInString(name) > 64 {
		return validationErr("username must be at most 64 characters")
	}
	return nil
}

func (s *UserService) validatePassword(pw string) error {
	if len(pw) < s.MinPasswordLen {
		return validationErr("password must be at least %d characters", s.MinPasswordLen)
	}
	if len(pw) > 72 {
		// bcrypt ignores everything past 72 bytes.
		return validationErr("password must be at most 72 bytes")
	}
	return nil
}

// Register creates a USER account.
func (s *UserService) Register(ctx context.Context, username, password string) (*RegisteredUser, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Register")
	defer span.End()

	username = normalizeUsername(username)
	if err := s.validateUsername(username); err != nil {
		return nil, err
	}
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}

	taken, err := repo.UsernameTaken(ctx, s.DB, username, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, conflictErr("username already exists")
	}

	role, err := repo.GetRoleByName(ctx, s.DB, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u, err := repo.CreateUser(ctx, s.DB, username, hash, role.ID)
	if err != nil {
		if isDuplicate(err) {
			return nil, conflictErr("username already exists")
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	return &RegisteredUser{ID: u.ID, Username: u.Username}, nil
}

// Authenticate checks credentials and issues a token. Unknown users and wrong
// passwords fail identically, and both paths run one bcrypt comparison.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Authenticate")
	defer span.End()

	u, err := repo.GetUserByUsername(ctx, s.DB, normalizeUsername(username))
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		s.Hasher.Verify(s.dummy(), password)
		return nil, newErr(ErrUnauthorized, loginFailed)
	}
	if !s.Hasher.Verify(u.PasswordHash, password) {
		return nil, newErr(ErrUnauthorized, loginFailed)
	}

	id := auth.Identity{UserID: u.ID, Username: u.Username, Role: u.RoleName()}
	token, exp, err := s.Tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	return &LoginResult{
		Token:     token,
		ExpiresAt: exp,
		User:      SessionUser{ID: u.ID, Username: u.Username, Role: id.Role},
	}, nil
}

// dummy returns a valid hash used to equalize login timing for unknown users.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("calshare-timing-equalizer")
	})
	return s.dummyHash
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, notFoundErr("user not found")
		}
		return nil, err
	}
	return u, nil
}

// List returns all users ordered by id.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return repo.ListUsers(ctx, s.DB)
}

// ListRoles returns the seeded roles.
func (s *UserService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return repo.ListRoles(ctx, s.DB)
}

// Update applies a partial profile change. At least one field is required;
// the password is re-hashed only when supplied.
func (s *UserService) Update(ctx context.Context, id uint, in UserUpdate) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Update",
		trace.WithAttributes(attribute.Int64("user.id", int64(id))),
	)
	defer span.End()

	if in.empty() {
		return nil, validationErr("no fields to update")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.Username != nil {
		name := normalizeUsername(*in.Username)
		if err := s.validateUsername(name); err != nil {
			return nil, err
		}
		taken, err := repo.UsernameTaken(ctx, s.DB, name, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflictErr("username already exists")
		}
		fields["username"] = name
	}
	if in.Password != nil {
		if err := s.validatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.Hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		fields["password_hash"] = hash
	}
	if in.RoleID != nil {
		if err := s.checkRole(ctx, *in.RoleID); err != nil {
			return nil, err
		}
		fields["role_id"] = *in.RoleID
	}

	if err := repo.UpdateUser(ctx, s.DB, id, fields); err != nil {
		switch {
		case isDuplicate(err):
			return nil, conflictErr("username already exists")
		case isNotFound(err):
			return nil, notFoundErr("user not found")
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// ChangeRole assigns roleID to the user.
func (s *UserService) ChangeRole(ctx context.Context, id, roleID uint) (*domain.User, error) {
	if roleID == 0 {
		return nil, validationErr("roleId is required")
	}
	return s.Update(ctx, id, UserUpdate{RoleID: &roleID})
}

func (s *UserService) checkRole(ctx context.Context, roleID uint) error {
	if _, err := repo.GetRole(ctx, s.DB, roleID); err != nil {
		if isNotFound(err) {
			return validationErr("invalid roleId")
		}
		return err
	}
	return nil
}

// Delete purges the user and everything referencing it in one transaction.
func (s *UserService) Delete(ctx context.Context, id uint) error {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.Int64("user.id", int64(id))),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return repo.DeleteUserCascade(ctx, tx, id)
	})
	if err != nil {
		if isNotFound(err) {
			return notFoundErr("user not found")
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// EnsureAdmin creates an ADMIN account named username when none exists.
// A blank password disables the bootstrap.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	username = normalizeUsername(username)
	if password == "" {
		return false, nil
	}
	if err := s.validateUsername(username); err != nil {
		return false, err
	}
	if err := s.validatePassword(password); err != nil {
		return false, err
	}
	if _, err := repo.GetUserByUsername(ctx, s.DB, username); err == nil {
		return false, nil
	} else if !isNotFound(err) {
		return false, err
	}

	role, err := repo.GetRoleByName(ctx, s.DB, domain.RoleAdmin)
	if err != nil {
		return false, err
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return false, err
	}
	if _, err := repo.CreateUser(ctx, s.DB, username, hash, role.ID); err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
