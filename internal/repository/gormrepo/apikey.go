// Package gormrepo implements the repository contracts on a relational store.
package gormrepo

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(gdb *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: gdb}
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id int64) (*db.APIKey, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	if keyHash == "" {
		return nil, nil
	}
	return r.first(ctx, "key_hash = ?", keyHash)
}

func (r *APIKeyRepository) first(ctx context.Context, query string, args ...any) (*db.APIKey, error) {
	var key db.APIKey
	err := r.db.WithContext(ctx).Where(query, args...).Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) FindByPrefix(ctx context.Context, keyPrefix string) ([]db.APIKey, error) {
	return r.list(ctx, r.db.Where("key_prefix = ?", keyPrefix))
}

func (r *APIKeyRepository) FindByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	return r.list(ctx, r.db.Where("project_id = ?", projectID))
}

func (r *APIKeyRepository) FindActiveByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	return r.list(ctx, r.db.Where("project_id = ? AND is_active = ?", projectID, true))
}

func (r *APIKeyRepository) list(ctx context.Context, stmt *gorm.DB) ([]db.APIKey, error) {
	keys := make([]db.APIKey, 0)
	if err := stmt.WithContext(ctx).Order("id desc").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, key *db.APIKey) error {
	err := r.db.WithContext(ctx).Omit("Project").Create(key).Error
	if db.IsDuplicateKeyErr(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (r *APIKeyRepository) UpdateHashAndPrefix(ctx context.Context, id int64, keyHash, keyPrefix string) error {
	res := r.db.WithContext(ctx).Model(&db.APIKey{}).Where("id = ?", id).Updates(map[string]any{
		"key_hash":   keyHash,
		"key_prefix": keyPrefix,
		"updated_at": time.Now().UTC(),
	})
	if db.IsDuplicateKeyErr(res.Error) {
		return repository.ErrDuplicate
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepository) Update(ctx context.Context, id int64, upd repository.APIKeyUpdate) (*db.APIKey, error) {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if upd.KeyName != nil {
		fields["key_name"] = *upd.KeyName
	}
	if upd.IsActive != nil {
		fields["is_active"] = *upd.IsActive
	}
	if upd.ExpiresAt != nil {
		fields["expires_at"] = *upd.ExpiresAt
	}
	if upd.ClearExpiry {
		fields["expires_at"] = nil
	}
	return r.apply(ctx, id, fields)
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id int64) (*db.APIKey, error) {
	return r.apply(ctx, id, map[string]any{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	})
}

func (r *APIKeyRepository) apply(ctx context.Context, id int64, fields map[string]any) (*db.APIKey, error) {
	res := r.db.WithContext(ctx).Model(&db.APIKey{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, repository.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *APIKeyRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&db.APIKey{}, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *APIKeyRepository) DeleteByProjectID(ctx context.Context, projectID int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&db.APIKey{})
	return res.RowsAffected, res.Error
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&db.APIKey{}).Where("id = ?", id).UpdateColumn("last_used_at", at).Error
}

var _ repository.APIKeyRepository = (*APIKeyRepository)(nil)
