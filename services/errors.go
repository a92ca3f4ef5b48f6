package services

import (
	"errors"
	"fmt"

	"github.com/justbri/shelfmark/models"
)

var (
	ErrNotFound             = errors.New("request not found")
	ErrUnauthorized         = errors.New("authentication required")
	ErrForbidden            = errors.New("not allowed")
	ErrDuplicateActive      = errors.New("an active request for this book already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrCatalogNotConfigured = errors.New("library catalog is not configured")
	ErrCatalogUnavailable   = errors.New("library catalog is unavailable")
)

// ValidationError rejects a submission before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidTransitionError is returned when a transition is not allowed from
// the request's current status. Nothing was written.
type InvalidTransitionError struct {
	RequestID  int64
	Current    models.Status
	Transition Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s request %d with status '%s'", e.Transition, e.RequestID, e.Current)
}

// AlreadyOwnedError means the library already holds a matching audiobook.
type AlreadyOwnedError struct {
	Match LibraryEntry
}

func (e *AlreadyOwnedError) Error() string {
	if e.Match.Author == "" {
		return fmt.Sprintf("already in library: %s", e.Match.Title)
	}
	return fmt.Sprintf("already in library: %s by %s", e.Match.Title, e.Match.Author)
}
