package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"gorm.io/gorm"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(gdb *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: gdb}
}

func (r *ProjectRepository) Create(ctx context.Context, project *db.Project) error {
	err := r.db.WithContext(ctx).Create(project).Error
	if db.IsDuplicateKeyErr(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (r *ProjectRepository) FindByID(ctx context.Context, id int64) (*db.Project, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *ProjectRepository) FindByName(ctx context.Context, name string) (*db.Project, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *ProjectRepository) first(ctx context.Context, query string, args ...any) (*db.Project, error) {
	var p db.Project
	err := r.db.WithContext(ctx).Where(query, args...).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) FindAll(ctx context.Context, page repository.Pagination) ([]db.Project, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).Model(&db.Project{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	projects := make([]db.Project, 0)
	// SortBy is whitelisted by Normalize.
	order := fmt.Sprintf("%s %s, id %s", page.SortBy, page.SortOrder, page.SortOrder)
	err := r.db.WithContext(ctx).
		Order(order).
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&projects).Error
	if err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

func (r *ProjectRepository) FindByEnvironment(ctx context.Context, env db.Environment) ([]db.Project, error) {
	return r.list(ctx, r.db.Where("environment = ?", env))
}

func (r *ProjectRepository) FindActive(ctx context.Context) ([]db.Project, error) {
	return r.list(ctx, r.db.Where("is_active = ?", true))
}

func (r *ProjectRepository) list(ctx context.Context, stmt *gorm.DB) ([]db.Project, error) {
	projects := make([]db.Project, 0)
	if err := stmt.WithContext(ctx).Order("id asc").Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *ProjectRepository) Update(ctx context.Context, id int64, upd repository.ProjectUpdate) (*db.Project, error) {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if upd.Provider != nil {
		fields["provider"] = *upd.Provider
	}
	if upd.ProviderAPIKeyEncrypted != nil {
		fields["provider_api_key_encrypted"] = *upd.ProviderAPIKeyEncrypted
	}
	if upd.DefaultFromEmail != nil {
		fields["default_from_email"] = *upd.DefaultFromEmail
	}
	if upd.DefaultFromName != nil {
		fields["default_from_name"] = *upd.DefaultFromName
	}
	if upd.ReplyToEmail != nil {
		fields["reply_to_email"] = *upd.ReplyToEmail
	}
	if upd.Domain != nil {
		fields["domain"] = *upd.Domain
	}
	if upd.WebhookURL != nil {
		fields["webhook_url"] = *upd.WebhookURL
	}
	if upd.RateLimitPerMinute != nil {
		fields["rate_limit_per_minute"] = *upd.RateLimitPerMinute
	}
	if upd.IsActive != nil {
		fields["is_active"] = *upd.IsActive
	}
	if upd.Environment != nil {
		fields["environment"] = *upd.Environment
	}

	res := r.db.WithContext(ctx).Model(&db.Project{}).Where("id = ?", id).Updates(fields)
	if db.IsDuplicateKeyErr(res.Error) {
		return nil, repository.ErrDuplicate
	}
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, repository.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *ProjectRepository) ToggleActive(ctx context.Context, id int64) (*db.Project, error) {
	var out *db.Project
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p db.Project
		if err := tx.Where("id = ?", id).Take(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		p.IsActive = !p.IsActive
		p.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&db.Project{}).Where("id = ?", id).Updates(map[string]any{
			"is_active":  p.IsActive,
			"updated_at": p.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&db.Project{}).Count(&n).Error
	return n, err
}

var _ repository.ProjectRepository = (*ProjectRepository)(nil)
