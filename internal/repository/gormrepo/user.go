package gormrepo

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(gdb *gorm.DB) *UserRepository {
	return &UserRepository{db: gdb}
}

func (r *UserRepository) Create(ctx context.Context, user *db.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if db.IsDuplicateKeyErr(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*db.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*db.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *UserRepository) first(ctx context.Context, query string, args ...any) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).Where(query, args...).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&db.User{}).Count(&n).Error
	return n, err
}

func (r *UserRepository) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	return r.update(ctx, id, map[string]any{
		"reset_token":        token,
		"reset_token_expiry": expiry,
	})
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.update(ctx, id, map[string]any{"password_hash": hash})
}

func (r *UserRepository) ClearResetToken(ctx context.Context, id int64) error {
	return r.update(ctx, id, map[string]any{
		"reset_token":        nil,
		"reset_token_expiry": nil,
	})
}

func (r *UserRepository) update(ctx context.Context, id int64, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.UserRepository = (*UserRepository)(nil)
