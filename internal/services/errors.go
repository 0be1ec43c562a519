// Package services defines the business logic for users, calendars,
// friendships, and availability queries. This file centralizes the error
// taxonomy so that service methods fail in a small number of well-known ways
// and handlers can map them to HTTP status codes in one place.
//
// Every failure a caller is expected to handle is an *Error whose Kind is one
// of the sentinel values below; test with errors.Is(err, ErrNotFound) etc.
package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-calshare-backend/internal/repo"
)

// Error kinds.
var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized marks bad credentials or a missing token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks an authenticated caller lacking permission.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound marks a missing user, calendar, query, or friendship.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate username, calendar, or friendship.
	ErrConflict = errors.New("conflict")

	// ErrUpstream marks a failed assistant call.
	ErrUpstream = errors.New("upstream failure")
)

// Error is a classified service failure. Message is safe to show to clients;
// Err, when set, carries the underlying cause for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Is matches the error's kind so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationErr(format string, args ...any) error { return newErr(ErrValidation, format, args...) }
func notFoundErr(format string, args ...any) error   { return newErr(ErrNotFound, format, args...) }
func conflictErr(format string, args ...any) error   { return newErr(ErrConflict, format, args...) }
func forbiddenErr(format string, args ...any) error  { return newErr(ErrForbidden, format, args...) }

func upstreamErr(cause error, msg string) error {
	return &Error{Kind: ErrUpstream, Message: msg, Err: cause}
}

// PublicMessage returns the client-facing message of a classified error.
func PublicMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}

// Helpers
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, repo.ErrNotFound)
}

func isDuplicate(err error) bool {
	return repo.IsDuplicate(err)
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
