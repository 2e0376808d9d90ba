package gormrepo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

func seedProject(t *testing.T, repo *ProjectRepository, name string) *db.Project {
	t.Helper()
	p := &db.Project{
		Name:                    name,
		Provider:                db.ProviderResend,
		ProviderAPIKeyEncrypted: "aa:bb",
		DefaultFromEmail:        "noreply@" + name + ".test",
		RateLimitPerMinute:      10,
		IsActive:                true,
		Environment:             db.EnvProduction,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	require.NotZero(t, p.ID)
	return p
}

func TestAPIKeyRepository_CreateAndFind(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)
	keys := NewAPIKeyRepository(gdb)
	p := seedProject(t, projects, "acme")

	k := &db.APIKey{ProjectID: p.ID, KeyName: "prod", KeyHash: "h1", KeyPrefix: "eqs_abcdefgh", IsActive: true}
	require.NoError(t, keys.Create(ctx, k))
	require.NotZero(t, k.ID)

	got, err := keys.FindByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, k.ID, got.ID)
	assert.Equal(t, "prod", got.KeyName)

	missing, err := keys.FindByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := keys.FindByHash(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)

	byPrefix, err := keys.FindByPrefix(ctx, "eqs_abcdefgh")
	require.NoError(t, err)
	assert.Len(t, byPrefix, 1)

	dup := &db.APIKey{ProjectID: p.ID, KeyName: "dup", KeyHash: "h1", KeyPrefix: "eqs_zzzzzzzz", IsActive: true}
	assert.ErrorIs(t, keys.Create(ctx, dup), repository.ErrDuplicate)
}

func TestAPIKeyRepository_ListByProject(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)
	keys := NewAPIKeyRepository(gdb)
	p := seedProject(t, projects, "acme")
	other := seedProject(t, projects, "globex")

	for i, active := range []bool{true, false, true} {
		k := &db.APIKey{ProjectID: p.ID, KeyName: fmt.Sprintf("k%d", i), KeyHash: fmt.Sprintf("h%d", i), KeyPrefix: "eqs_x", IsActive: active}
		require.NoError(t, keys.Create(ctx, k))
	}
	require.NoError(t, keys.Create(ctx, &db.APIKey{ProjectID: other.ID, KeyName: "o", KeyHash: "ho", KeyPrefix: "eqs_y", IsActive: true}))

	all, err := keys.FindByProjectID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "k2", all[0].KeyName)

	active, err := keys.FindActiveByProjectID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	none, err := keys.FindByProjectID(ctx, 9999)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAPIKeyRepository_Mutations(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)
	keys := NewAPIKeyRepository(gdb)
	p := seedProject(t, projects, "acme")

	k := &db.APIKey{ProjectID: p.ID, KeyName: "prod", KeyHash: "h1", KeyPrefix: "eqs_a", IsActive: true}
	require.NoError(t, keys.Create(ctx, k))

	name := "renamed"
	exp := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	updated, err := keys.Update(ctx, k.ID, repository.APIKeyUpdate{KeyName: &name, ExpiresAt: &exp})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.KeyName)
	require.NotNil(t, updated.ExpiresAt)
	assert.True(t, exp.Equal(*updated.ExpiresAt))
	assert.True(t, updated.IsActive)

	updated, err = keys.Update(ctx, k.ID, repository.APIKeyUpdate{ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ExpiresAt)

	require.NoError(t, keys.UpdateHashAndPrefix(ctx, k.ID, "h2", "eqs_b"))
	got, err := keys.FindByHash(ctx, "h2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "eqs_b", got.KeyPrefix)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, keys.UpdateLastUsed(ctx, k.ID, at))
	got, err = keys.FindByID(ctx, k.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, at.Equal(*got.LastUsedAt))

	revoked, err := keys.Revoke(ctx, k.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	_, err = keys.Revoke(ctx, 9999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = keys.Update(ctx, 9999, repository.APIKeyUpdate{KeyName: &name})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, keys.UpdateHashAndPrefix(ctx, 9999, "h3", "eqs_c"), repository.ErrNotFound)

	deleted, err := keys.Delete(ctx, k.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = keys.Delete(ctx, k.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestAPIKeyRepository_DeleteByProjectID(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)
	keys := NewAPIKeyRepository(gdb)
	p := seedProject(t, projects, "acme")

	for i := 0; i < 3; i++ {
		require.NoError(t, keys.Create(ctx, &db.APIKey{ProjectID: p.ID, KeyName: "k", KeyHash: fmt.Sprintf("h%d", i), KeyPrefix: "eqs_x", IsActive: true}))
	}

	n, err := keys.DeleteByProjectID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rest, err := keys.FindByProjectID(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestProjectRepository_CRUD(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)

	p := seedProject(t, projects, "acme")
	seedProject(t, projects, "globex")

	assert.ErrorIs(t, projects.Create(ctx, &db.Project{
		Name: "acme", Provider: db.ProviderSES, ProviderAPIKeyEncrypted: "a:b",
		DefaultFromEmail: "x@y.test", IsActive: true, Environment: db.EnvDevelopment,
	}), repository.ErrDuplicate)

	byName, err := projects.FindByName(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, p.ID, byName.ID)

	missing, err := projects.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	limit := 60
	env := db.EnvStaging
	updated, err := projects.Update(ctx, p.ID, repository.ProjectUpdate{RateLimitPerMinute: &limit, Environment: &env})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.RateLimitPerMinute)
	assert.Equal(t, db.EnvStaging, updated.Environment)

	clash := "globex"
	_, err = projects.Update(ctx, p.ID, repository.ProjectUpdate{Name: &clash})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	staging, err := projects.FindByEnvironment(ctx, db.EnvStaging)
	require.NoError(t, err)
	assert.Len(t, staging, 1)

	toggled, err := projects.ToggleActive(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	active, err := projects.FindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "globex", active[0].Name)

	_, err = projects.ToggleActive(ctx, 9999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := projects.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestProjectRepository_FindAllPaginates(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	projects := NewProjectRepository(gdb)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		seedProject(t, projects, name)
	}

	page, total, err := projects.FindAll(ctx, repository.Pagination{Page: 1, Limit: 2, SortBy: "name", SortOrder: repository.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "alpha", page[0].Name)
	assert.Equal(t, "bravo", page[1].Name)

	page, _, err = projects.FindAll(ctx, repository.Pagination{Page: 2, Limit: 2, SortBy: "name", SortOrder: repository.SortAsc})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "charlie", page[0].Name)

	page, _, err = projects.FindAll(ctx, repository.Pagination{SortBy: "name; drop table projects"})
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestUserRepository_ResetToken(t *testing.T) {
	gdb := setupDB(t)
	ctx := context.Background()
	users := NewUserRepository(gdb)

	u := &db.User{Email: "admin@acme.test", Name: "Admin", Role: db.RoleAdmin, PasswordHash: "x"}
	require.NoError(t, users.Create(ctx, u))
	assert.ErrorIs(t, users.Create(ctx, &db.User{Email: "admin@acme.test", Name: "B", Role: db.RoleAdmin, PasswordHash: "y"}), repository.ErrDuplicate)

	expiry := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, users.SetResetToken(ctx, u.ID, "tok", expiry))
	got, err := users.FindByEmail(ctx, "admin@acme.test")
	require.NoError(t, err)
	require.NotNil(t, got.ResetToken)
	assert.Equal(t, "tok", *got.ResetToken)

	require.NoError(t, users.UpdatePasswordHash(ctx, u.ID, "new"))
	require.NoError(t, users.ClearResetToken(ctx, u.ID))
	got, err = users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResetToken)
	assert.Equal(t, "new", got.PasswordHash)

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, users.UpdatePasswordHash(ctx, 9999, "z"), repository.ErrNotFound)
}
