package service

import (
	"errors"
	"fmt"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/repository"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrProjectNotFound      = fmt.Errorf("project %w", ErrNotFound)
	ErrConflict             = errors.New("conflict")
	ErrInvalidState         = errors.New("invalid state")
	ErrKeyRevoked           = fmt.Errorf("%w: api key is revoked", ErrInvalidState)
	ErrKeyExpired           = fmt.Errorf("%w: api key is expired", ErrInvalidState)
	ErrAlreadyRevoked       = fmt.Errorf("%w: api key is already revoked", ErrInvalidState)
	ErrProjectInactive      = fmt.Errorf("%w: project is inactive", ErrInvalidState)
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMalformedInput       = errors.New("malformed input")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnavailable          = errors.New("backing store unavailable")
)

// classify maps store and codec errors onto the service taxonomy so raw
// driver errors never reach callers unlabelled.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, auth.ErrInvalidKeyConfiguration):
		return fmt.Errorf("%s: %w", op, ErrInvalidConfiguration)
	case errors.Is(err, auth.ErrMalformedCiphertext):
		return fmt.Errorf("%s: %w", op, ErrMalformedInput)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
}
