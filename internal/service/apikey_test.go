package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/cache"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
	"github.com/raakeshmj/keyplane/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyService_AcmeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acme := f.project(t, "acme")
	res := f.key(t, acme.ID, "production", nil)
	assert.True(t, strings.HasPrefix(res.PlainTextKey, "eqs_"))

	v, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, acme.ID, v.APIKey.ProjectID)
	assert.Equal(t, "acme", v.Project.Name)

	v, err = f.keys.Validate(ctx, res.PlainTextKey+"x")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAPIKeyService_GenerateCustomTagPrefix(t *testing.T) {
	for _, tag := range []string{"key-", "eqs_live_"} {
		t.Run(tag, func(t *testing.T) {
			f := newFixture(t, func(o *APIKeyOptions) { o.KeyTag = tag })
			p := f.project(t, "acme")

			res := f.key(t, p.ID, "ci", nil)
			require.True(t, strings.HasPrefix(res.PlainTextKey, tag))
			assert.Equal(t, res.PlainTextKey[:len(tag)+8], res.Key.KeyPrefix)

			v, err := f.keys.Validate(context.Background(), res.PlainTextKey)
			require.NoError(t, err)
			require.NotNil(t, v)
		})
	}
}

func TestAPIKeyService_GenerateStoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")

	res := f.key(t, p.ID, "ci", nil)
	row, err := f.store.Keys.FindByHash(ctx, auth.HashAPIKey(res.PlainTextKey))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, res.Key.ID, row.ID)
	assert.Equal(t, auth.ExtractKeyPrefix(res.PlainTextKey, auth.DefaultKeyTag), row.KeyPrefix)
	assert.NotEqual(t, res.PlainTextKey, row.KeyHash)
	assert.True(t, row.IsActive)
}

func TestAPIKeyService_GenerateRequiresActiveProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.keys.Generate(ctx, 404, "k", nil)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	p := f.project(t, "acme")
	_, err = f.projects.ToggleActive(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.keys.Generate(ctx, p.ID, "k", nil)
	assert.ErrorIs(t, err, ErrProjectInactive)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.keys.Generate(ctx, p.ID, "  ", nil)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestAPIKeyService_ValidateServesFromCacheUntilTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	res := f.key(t, p.ID, "k", nil)

	first, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Revoke behind the service's back: the cached result still answers.
	_, err = f.store.Keys.Revoke(ctx, res.Key.ID)
	require.NoError(t, err)
	second, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.APIKey.ID, second.APIKey.ID)
	assert.Equal(t, first.Project, second.Project)

	f.clock.Advance(time.Minute)
	third, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestAPIKeyService_RevokeInvalidatesCachedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	res := f.key(t, p.ID, "k", nil)

	v, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)

	revoked, err := f.keys.Revoke(ctx, res.Key.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)

	for i := 0; i < 3; i++ {
		v, err = f.keys.Validate(ctx, res.PlainTextKey)
		require.NoError(t, err)
		assert.Nil(t, v)
	}

	_, err = f.keys.Revoke(ctx, res.Key.ID)
	assert.NoError(t, err, "revoke is idempotent")

	_, err = f.keys.Revoke(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_ValidateRejectsExpiredAndInactiveProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")

	exp := epoch.Add(time.Hour)
	expiring := f.key(t, p.ID, "short", &exp)
	f.clock.Advance(time.Hour)
	v, err := f.keys.Validate(ctx, expiring.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)

	live := f.key(t, p.ID, "live", nil)
	_, err = f.projects.ToggleActive(ctx, p.ID)
	require.NoError(t, err)
	v, err = f.keys.Validate(ctx, live.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = f.keys.Validate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAPIKeyService_ValidateRecordsLastUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	res := f.key(t, p.ID, "k", nil)

	_, err := f.keys.Validate(ctx, res.PlainTextKey)
	require.NoError(t, err)
	f.keys.Wait()

	row, err := f.store.Keys.FindByID(ctx, res.Key.ID)
	require.NoError(t, err)
	require.NotNil(t, row.LastUsedAt)
	assert.True(t, epoch.Equal(*row.LastUsedAt))
}

func TestAPIKeyService_LastUsedFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	keys := &flakyKeys{APIKeyRepository: store.Keys, failLastUsed: true}
	svc := NewAPIKeyService(keys, store.Projects, cache.NewMemoryCache(nil), APIKeyOptions{})
	ctx := context.Background()

	require.NoError(t, store.Projects.Create(ctx, &db.Project{Name: "acme", IsActive: true}))
	res, err := svc.Generate(ctx, 1, "k", nil)
	require.NoError(t, err)

	v, err := svc.Validate(ctx, res.PlainTextKey)
	svc.Wait()
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestAPIKeyService_ValidateStoreFailureIsUnavailable(t *testing.T) {
	store := memory.New()
	keys := &flakyKeys{APIKeyRepository: store.Keys, failFind: true}
	svc := NewAPIKeyService(keys, store.Projects, nil, APIKeyOptions{})

	v, err := svc.Validate(context.Background(), "eqs_whatever")
	assert.Nil(t, v)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAPIKeyService_Rotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	exp := epoch.Add(30 * 24 * time.Hour)
	old := f.key(t, p.ID, "production", &exp)

	_, err := f.keys.Validate(ctx, old.PlainTextKey)
	require.NoError(t, err)

	rotated, err := f.keys.Rotate(ctx, old.Key.ID)
	require.NoError(t, err)
	assert.False(t, rotated.Revoked.IsActive)
	assert.Equal(t, "production (rotated)", rotated.Generated.Key.KeyName)
	assert.Equal(t, p.ID, rotated.Generated.Key.ProjectID)
	require.NotNil(t, rotated.Generated.Key.ExpiresAt)
	assert.True(t, exp.Equal(*rotated.Generated.Key.ExpiresAt))
	assert.NotEqual(t, old.PlainTextKey, rotated.Generated.PlainTextKey)

	v, err := f.keys.Validate(ctx, old.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = f.keys.Validate(ctx, rotated.Generated.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, p.ID, v.APIKey.ProjectID)

	_, err = f.keys.Rotate(ctx, old.Key.ID)
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
	_, err = f.keys.Rotate(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_RotateLocking(t *testing.T) {
	locker := newStubLocker()
	f := newFixture(t, func(o *APIKeyOptions) { o.Locker = locker })
	ctx := context.Background()
	p := f.project(t, "acme")
	k := f.key(t, p.ID, "k", nil)

	locker.held["apikey:rotate:1"] = "someone-else"
	_, err := f.keys.Rotate(ctx, k.Key.ID)
	assert.ErrorIs(t, err, ErrConflict)

	delete(locker.held, "apikey:rotate:1")
	_, err = f.keys.Rotate(ctx, k.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
	assert.Empty(t, locker.held)

	// Lock backend failures do not block rotation.
	k2 := f.key(t, p.ID, "k2", nil)
	locker.fail = true
	_, err = f.keys.Rotate(ctx, k2.Key.ID)
	assert.NoError(t, err)
}

func TestAPIKeyService_UpdateGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")

	future := epoch.Add(48 * time.Hour)
	live := f.key(t, p.ID, "live", &future)
	name := "renamed"
	updated, err := f.keys.Update(ctx, live.Key.ID, repository.APIKeyUpdate{KeyName: &name})
	require.NoError(t, err, "a key that has not expired yet can be updated")
	assert.Equal(t, "renamed", updated.KeyName)

	revoked := f.key(t, p.ID, "revoked", nil)
	_, err = f.keys.Revoke(ctx, revoked.Key.ID)
	require.NoError(t, err)
	_, err = f.keys.Update(ctx, revoked.Key.ID, repository.APIKeyUpdate{KeyName: &name})
	assert.ErrorIs(t, err, ErrKeyRevoked)

	soon := epoch.Add(time.Minute)
	expired := f.key(t, p.ID, "expired", &soon)
	f.clock.Advance(2 * time.Minute)
	_, err = f.keys.Update(ctx, expired.Key.ID, repository.APIKeyUpdate{KeyName: &name})
	assert.ErrorIs(t, err, ErrKeyExpired)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.keys.Update(ctx, live.Key.ID, repository.APIKeyUpdate{})
	assert.ErrorIs(t, err, ErrMalformedInput)
	_, err = f.keys.Update(ctx, 9999, repository.APIKeyUpdate{KeyName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_UpdateClearExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")

	future := epoch.Add(time.Hour)
	k := f.key(t, p.ID, "k", &future)

	later := epoch.Add(2 * time.Hour)
	_, err := f.keys.Update(ctx, k.Key.ID, repository.APIKeyUpdate{ExpiresAt: &later, ClearExpiry: true})
	assert.ErrorIs(t, err, ErrMalformedInput)

	updated, err := f.keys.Update(ctx, k.Key.ID, repository.APIKeyUpdate{ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ExpiresAt)

	f.clock.Advance(24 * time.Hour)
	v, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestAPIKeyService_UpdateInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	k := f.key(t, p.ID, "k", nil)

	_, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())

	inactive := false
	_, err = f.keys.Update(ctx, k.Key.ID, repository.APIKeyUpdate{IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.Len())

	v, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAPIKeyService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	k := f.key(t, p.ID, "k", nil)

	_, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)

	require.NoError(t, f.keys.Delete(ctx, k.Key.ID))
	v, err := f.keys.Validate(ctx, k.PlainTextKey)
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.ErrorIs(t, f.keys.Delete(ctx, k.Key.ID), ErrNotFound)
	_, err = f.keys.Get(ctx, k.Key.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPIKeyService_ProjectReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.project(t, "acme")
	a := f.key(t, p.ID, "a", nil)
	f.key(t, p.ID, "b", nil)
	_, err := f.keys.Revoke(ctx, a.Key.ID)
	require.NoError(t, err)

	all, err := f.keys.ListByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.keys.ListActiveByProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].KeyName)

	byPrefix, err := f.keys.FindByPrefix(ctx, a.Key.KeyPrefix)
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	assert.Equal(t, a.Key.ID, byPrefix[0].ID)

	_, err = f.keys.ListByProject(ctx, 404)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = f.keys.FindByPrefix(ctx, "")
	assert.ErrorIs(t, err, ErrMalformedInput)

	n, err := f.keys.DeleteProjectKeys(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	all, err = f.keys.ListByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}
