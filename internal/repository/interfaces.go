package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// APIKeyUpdate carries the mutable fields of a key; nil fields are left
// unchanged. ClearExpiry makes the key non-expiring and excludes ExpiresAt.
type APIKeyUpdate struct {
	KeyName     *string
	IsActive    *bool
	ExpiresAt   *time.Time
	ClearExpiry bool
}

func (u APIKeyUpdate) Empty() bool {
	return u.KeyName == nil && u.IsActive == nil && u.ExpiresAt == nil && !u.ClearExpiry
}

// APIKeyRepository is the Key Store. Finders return nil (or an empty slice)
// on a miss rather than an error.
type APIKeyRepository interface {
	FindByID(ctx context.Context, id int64) (*db.APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*db.APIKey, error)
	FindByPrefix(ctx context.Context, keyPrefix string) ([]db.APIKey, error)
	FindByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error)
	FindActiveByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error)

	// Create inserts a fully formed key; KeyHash and KeyPrefix must be set.
	Create(ctx context.Context, key *db.APIKey) error
	UpdateHashAndPrefix(ctx context.Context, id int64, keyHash, keyPrefix string) error
	Update(ctx context.Context, id int64, upd APIKeyUpdate) (*db.APIKey, error)
	Revoke(ctx context.Context, id int64) (*db.APIKey, error)
	Delete(ctx context.Context, id int64) (bool, error)
	DeleteByProjectID(ctx context.Context, projectID int64) (int64, error)
	UpdateLastUsed(ctx context.Context, id int64, at time.Time) error
}

// ProjectUpdate carries the mutable project fields; nil fields are left unchanged.
// ProviderAPIKeyEncrypted must already be a Cipher envelope.
type ProjectUpdate struct {
	Name                    *string
	Description             *string
	Provider                *db.Provider
	ProviderAPIKeyEncrypted *string
	DefaultFromEmail        *string
	DefaultFromName         *string
	ReplyToEmail            *string
	Domain                  *string
	WebhookURL              *string
	RateLimitPerMinute      *int
	IsActive                *bool
	Environment             *db.Environment
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type Pagination struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
}

// Normalize clamps the page window and restricts sorting to known columns.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	switch p.SortBy {
	case "name", "created_at", "updated_at", "id":
	default:
		p.SortBy = "created_at"
	}
	if p.SortOrder != SortAsc {
		p.SortOrder = SortDesc
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

type ProjectRepository interface {
	Create(ctx context.Context, project *db.Project) error
	FindByID(ctx context.Context, id int64) (*db.Project, error)
	FindByName(ctx context.Context, name string) (*db.Project, error)
	FindAll(ctx context.Context, page Pagination) ([]db.Project, int64, error)
	FindByEnvironment(ctx context.Context, env db.Environment) ([]db.Project, error)
	FindActive(ctx context.Context) ([]db.Project, error)
	Update(ctx context.Context, id int64, upd ProjectUpdate) (*db.Project, error)
	ToggleActive(ctx context.Context, id int64) (*db.Project, error)
	Count(ctx context.Context) (int64, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	FindByID(ctx context.Context, id int64) (*db.User, error)
	FindByEmail(ctx context.Context, email string) (*db.User, error)
	Count(ctx context.Context) (int64, error)
	SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	ClearResetToken(ctx context.Context, id int64) error
}
