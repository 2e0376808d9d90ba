package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/cache"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"go.uber.org/zap"
)

const defaultRateLimitPerMinute = 10

type CreateProjectInput struct {
	Name               string
	Description        *string
	Provider           db.Provider
	ProviderAPIKey     string
	DefaultFromEmail   string
	DefaultFromName    *string
	ReplyToEmail       *string
	Domain             *string
	WebhookURL         *string
	RateLimitPerMinute int
	Environment        db.Environment
}

// UpdateProjectInput leaves nil fields unchanged. ProviderAPIKey is plaintext
// and is encrypted before it is stored.
type UpdateProjectInput struct {
	Name               *string
	Description        *string
	Provider           *db.Provider
	ProviderAPIKey     *string
	DefaultFromEmail   *string
	DefaultFromName    *string
	ReplyToEmail       *string
	Domain             *string
	WebhookURL         *string
	RateLimitPerMinute *int
	IsActive           *bool
	Environment        *db.Environment
}

type ProjectWithKey struct {
	db.Project
	ProviderAPIKey string `json:"provider_api_key"`
}

type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

func newPage[T any](items []T, p repository.Pagination, total int64) Page[T] {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Page[T]{
		Items:      items,
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}

type ProjectService struct {
	projects repository.ProjectRepository
	keys     repository.APIKeyRepository
	cache    cache.ValidationCache
	cipher   *auth.Cipher
	log      *zap.Logger
}

func NewProjectService(projects repository.ProjectRepository, keys repository.APIKeyRepository, c cache.ValidationCache, cipher *auth.Cipher, log *zap.Logger) *ProjectService {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.NewMemoryCache(nil)
	}
	return &ProjectService{
		projects: projects,
		keys:     keys,
		cache:    c,
		cipher:   cipher,
		log:      log.Named("project"),
	}
}

func (s *ProjectService) Create(ctx context.Context, in CreateProjectInput) (*db.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.ProviderAPIKey == "" || in.DefaultFromEmail == "" {
		return nil, fmt.Errorf("%w: name, provider api key and default from email are required", ErrMalformedInput)
	}

	existing, err := s.projects.FindByName(ctx, in.Name)
	if err != nil {
		return nil, classify("find project", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: project %q already exists", ErrConflict, in.Name)
	}

	encrypted, err := s.cipher.Encrypt(in.ProviderAPIKey)
	if err != nil {
		return nil, classify("encrypt provider key", err)
	}

	p := &db.Project{
		Name:                    in.Name,
		Description:             in.Description,
		Provider:                in.Provider,
		ProviderAPIKeyEncrypted: encrypted,
		DefaultFromEmail:        in.DefaultFromEmail,
		DefaultFromName:         in.DefaultFromName,
		ReplyToEmail:            in.ReplyToEmail,
		Domain:                  in.Domain,
		WebhookURL:              in.WebhookURL,
		RateLimitPerMinute:      in.RateLimitPerMinute,
		IsActive:                true,
		Environment:             in.Environment,
	}
	if p.Provider == "" {
		p.Provider = db.ProviderResend
	}
	if p.RateLimitPerMinute <= 0 {
		p.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if p.Environment == "" {
		p.Environment = db.EnvProduction
	}

	if err := s.projects.Create(ctx, p); err != nil {
		return nil, classify("create project", err)
	}
	s.log.Info("project created", zap.Int64("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func (s *ProjectService) Get(ctx context.Context, id int64) (*db.Project, error) {
	p, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, classify("find project", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return p, nil
}

// GetWithDecryptedKey is the only read that exposes the provider credential.
func (s *ProjectService) GetWithDecryptedKey(ctx context.Context, id int64) (*ProjectWithKey, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	plain, err := s.cipher.Decrypt(p.ProviderAPIKeyEncrypted)
	if err != nil {
		return nil, classify("decrypt provider key", err)
	}
	return &ProjectWithKey{Project: *p, ProviderAPIKey: plain}, nil
}

func (s *ProjectService) List(ctx context.Context, page repository.Pagination) (Page[db.Project], error) {
	page = page.Normalize()
	items, total, err := s.projects.FindAll(ctx, page)
	if err != nil {
		return Page[db.Project]{}, classify("list projects", err)
	}
	return newPage(items, page, total), nil
}

func (s *ProjectService) ListByEnvironment(ctx context.Context, env db.Environment) ([]db.Project, error) {
	switch env {
	case db.EnvDevelopment, db.EnvStaging, db.EnvProduction:
	default:
		return nil, fmt.Errorf("%w: unknown environment %q", ErrMalformedInput, env)
	}
	items, err := s.projects.FindByEnvironment(ctx, env)
	return items, classify("list projects by environment", err)
}

func (s *ProjectService) ListActive(ctx context.Context) ([]db.Project, error) {
	items, err := s.projects.FindActive(ctx)
	return items, classify("list active projects", err)
}

func (s *ProjectService) Count(ctx context.Context) (int64, error) {
	n, err := s.projects.Count(ctx)
	return n, classify("count projects", err)
}

func (s *ProjectService) Update(ctx context.Context, id int64, in UpdateProjectInput) (*db.Project, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := repository.ProjectUpdate{
		Description:        in.Description,
		Provider:           in.Provider,
		DefaultFromEmail:   in.DefaultFromEmail,
		DefaultFromName:    in.DefaultFromName,
		ReplyToEmail:       in.ReplyToEmail,
		Domain:             in.Domain,
		WebhookURL:         in.WebhookURL,
		RateLimitPerMinute: in.RateLimitPerMinute,
		IsActive:           in.IsActive,
		Environment:        in.Environment,
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrMalformedInput)
		}
		if name != current.Name {
			clash, err := s.projects.FindByName(ctx, name)
			if err != nil {
				return nil, classify("find project", err)
			}
			if clash != nil {
				return nil, fmt.Errorf("%w: project %q already exists", ErrConflict, name)
			}
		}
		upd.Name = &name
	}

	if in.ProviderAPIKey != nil {
		encrypted, err := s.cipher.Encrypt(*in.ProviderAPIKey)
		if err != nil {
			return nil, classify("encrypt provider key", err)
		}
		upd.ProviderAPIKeyEncrypted = &encrypted
	}

	updated, err := s.projects.Update(ctx, id, upd)
	if err != nil {
		return nil, classify("update project", err)
	}
	s.invalidateKeys(ctx, id)
	return updated, nil
}

// ToggleActive flips the project's active flag. Deactivation is the only way
// to retire a project.
func (s *ProjectService) ToggleActive(ctx context.Context, id int64) (*db.Project, error) {
	p, err := s.projects.ToggleActive(ctx, id)
	if err != nil {
		return nil, classify(fmt.Sprintf("toggle project %d", id), err)
	}
	s.invalidateKeys(ctx, id)
	s.log.Info("project toggled", zap.Int64("project_id", id), zap.Bool("is_active", p.IsActive))
	return p, nil
}

// invalidateKeys drops cached validations that embed a stale project snapshot.
func (s *ProjectService) invalidateKeys(ctx context.Context, projectID int64) {
	keys, err := s.keys.FindByProjectID(ctx, projectID)
	if err != nil {
		s.log.Warn("list keys for cache invalidation failed", zap.Int64("project_id", projectID), zap.Error(err))
		return
	}
	for _, k := range keys {
		if err := s.cache.Invalidate(ctx, k.KeyHash); err != nil {
			s.log.Warn("validation cache invalidate failed", zap.Int64("key_id", k.ID), zap.Error(err))
		}
	}
}
