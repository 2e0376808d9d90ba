package service

import (
	"context"
	"testing"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectService_CreateEncryptsCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.project(t, "acme")
	assert.NotEqual(t, "re_live_acme", p.ProviderAPIKeyEncrypted)
	assert.Equal(t, 10, p.RateLimitPerMinute)
	assert.Equal(t, db.EnvProduction, p.Environment)
	assert.True(t, p.IsActive)

	withKey, err := f.projects.GetWithDecryptedKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "re_live_acme", withKey.ProviderAPIKey)

	_, err = f.projects.Create(ctx, CreateProjectInput{Name: "acme", ProviderAPIKey: "x", DefaultFromEmail: "a@b.test"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.projects.Create(ctx, CreateProjectInput{Name: "empty"})
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = f.projects.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestProjectService_CreateWithoutCipher(t *testing.T) {
	f := newFixture(t)
	svc := NewProjectService(f.store.Projects, f.store.Keys, f.cache, nil, nil)

	_, err := svc.Create(context.Background(), CreateProjectInput{Name: "acme", ProviderAPIKey: "x", DefaultFromEmail: "a@b.test"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestProjectService_UpdateReencryptsAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	k := f.key(t, p.ID, "k", nil)

	_, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())

	newKey := "re_live_rotated"
	limit := 120
	updated, err := f.projects.Update(ctx, p.ID, UpdateProjectInput{ProviderAPIKey: &newKey, RateLimitPerMinute: &limit})
	require.NoError(t, err)
	assert.Equal(t, 120, updated.RateLimitPerMinute)
	assert.NotEqual(t, p.ProviderAPIKeyEncrypted, updated.ProviderAPIKeyEncrypted)
	assert.Equal(t, 0, f.cache.Len())

	withKey, err := f.projects.GetWithDecryptedKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, newKey, withKey.ProviderAPIKey)

	v, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 120, v.Project.RateLimitPerMinute)
}

func TestProjectService_UpdateRenameConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	f.project(t, "globex")

	clash := "globex"
	_, err := f.projects.Update(ctx, p.ID, UpdateProjectInput{Name: &clash})
	assert.ErrorIs(t, err, ErrConflict)

	same := "acme"
	_, err = f.projects.Update(ctx, p.ID, UpdateProjectInput{Name: &same})
	assert.NoError(t, err)

	_, err = f.projects.Update(ctx, 404, UpdateProjectInput{Name: &same})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestProjectService_ToggleActiveDisablesKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	k := f.key(t, p.ID, "k", nil)

	v, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)

	toggled, err := f.projects.ToggleActive(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	v, err = f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)

	toggled, err = f.projects.ToggleActive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)

	_, err = f.projects.ToggleActive(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectService_Listing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "bravo", "charlie"} {
		f.project(t, name)
	}
	staging := db.EnvStaging
	_, err := f.projects.Update(ctx, 2, UpdateProjectInput{Environment: &staging})
	require.NoError(t, err)
	_, err = f.projects.ToggleActive(ctx, 3)
	require.NoError(t, err)

	page, err := f.projects.List(ctx, repository.Pagination{Page: 1, Limit: 2, SortBy: "name", SortOrder: repository.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alpha", page.Items[0].Name)

	byEnv, err := f.projects.ListByEnvironment(ctx, db.EnvStaging)
	require.NoError(t, err)
	require.Len(t, byEnv, 1)
	assert.Equal(t, "bravo", byEnv[0].Name)

	_, err = f.projects.ListByEnvironment(ctx, "qa")
	assert.ErrorIs(t, err, ErrMalformedInput)

	active, err := f.projects.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := f.projects.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
