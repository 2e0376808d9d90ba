package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/cache"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/lock"
	"github.com/raakeshmj/keyplane/internal/metrics"
	"github.com/raakeshmj/keyplane/internal/repository"
	"go.uber.org/zap"
)

const (
	rotatedSuffix      = " (rotated)"
	maxGenerateRetries = 3
)

type APIKeyOptions struct {
	// KeyTag is prepended to every issued plaintext key.
	KeyTag          string
	CacheTTL        time.Duration
	LastUsedTimeout time.Duration
	RotateLockTTL   time.Duration

	Clock   clock.Clock
	Locker  lock.Locker
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// APIKeyService owns the key lifecycle: issue, authenticate, mutate, retire.
type APIKeyService struct {
	keys     repository.APIKeyRepository
	projects repository.ProjectRepository
	cache    cache.ValidationCache

	tag             string
	cacheTTL        time.Duration
	lastUsedTimeout time.Duration
	lockTTL         time.Duration

	clock   clock.Clock
	locker  lock.Locker
	metrics *metrics.Metrics
	log     *zap.Logger

	background sync.WaitGroup
}

func NewAPIKeyService(keys repository.APIKeyRepository, projects repository.ProjectRepository, c cache.ValidationCache, opts APIKeyOptions) *APIKeyService {
	s := &APIKeyService{
		keys:            keys,
		projects:        projects,
		cache:           c,
		tag:             opts.KeyTag,
		cacheTTL:        opts.CacheTTL,
		lastUsedTimeout: opts.LastUsedTimeout,
		lockTTL:         opts.RotateLockTTL,
		clock:           opts.Clock,
		locker:          opts.Locker,
		metrics:         opts.Metrics,
		log:             opts.Logger,
	}
	if s.tag == "" {
		s.tag = auth.DefaultKeyTag
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = cache.DefaultTTL
	}
	if s.lastUsedTimeout <= 0 {
		s.lastUsedTimeout = 5 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 10 * time.Second
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryCache(s.clock)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("apikey")
	return s
}

type GenerateResult struct {
	Key          db.APIKey
	PlainTextKey string
}

type RotateResult struct {
	Revoked   db.APIKey
	Generated GenerateResult
}

// Generate issues a new key for an active project. The plaintext is derived
// before the insert, so the stored row is complete the moment it exists.
func (s *APIKeyService) Generate(ctx context.Context, projectID int64, keyName string, expiresAt *time.Time) (*GenerateResult, error) {
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return nil, fmt.Errorf("%w: key name is required", ErrMalformedInput)
	}
	if _, err := s.activeProject(ctx, projectID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		plain, err := auth.GenerateAPIKey(s.tag)
		if err != nil {
			return nil, fmt.Errorf("generate api key: %w", err)
		}

		key := &db.APIKey{
			ProjectID: projectID,
			KeyName:   keyName,
			KeyHash:   auth.HashAPIKey(plain),
			KeyPrefix: auth.ExtractKeyPrefix(plain, s.tag),
			IsActive:  true,
			ExpiresAt: copyTime(expiresAt),
		}
		err = s.keys.Create(ctx, key)
		if errors.Is(err, repository.ErrDuplicate) && attempt < maxGenerateRetries {
			continue
		}
		if err != nil {
			return nil, classify("create api key", err)
		}

		s.log.Info("api key generated",
			zap.Int64("key_id", key.ID),
			zap.Int64("project_id", projectID),
			zap.String("key_prefix", key.KeyPrefix),
		)
		return &GenerateResult{Key: *key, PlainTextKey: plain}, nil
	}
}

// Validate authenticates a plaintext key. Every kind of invalid key yields
// (nil, nil); an error means the store could not be consulted.
func (s *APIKeyService) Validate(ctx context.Context, plainTextKey string) (*db.ValidatedAPIKey, error) {
	if plainTextKey == "" {
		s.metrics.Validation(metrics.ValidationInvalid)
		return nil, nil
	}
	keyHash := auth.HashAPIKey(plainTextKey)

	cached, ok, err := s.cache.Get(ctx, keyHash)
	if err != nil {
		s.log.Warn("validation cache read failed", zap.Error(err))
	}
	if ok {
		s.metrics.Validation(metrics.ValidationCacheHit)
		return cached, nil
	}

	key, err := s.keys.FindByHash(ctx, keyHash)
	if err != nil {
		s.metrics.Validation(metrics.ValidationError)
		return nil, classify("find api key", err)
	}
	now := s.clock.Now()
	if key == nil || !key.Usable(now) {
		s.metrics.Validation(metrics.ValidationInvalid)
		return nil, nil
	}

	project, err := s.projects.FindByID(ctx, key.ProjectID)
	if err != nil {
		s.metrics.Validation(metrics.ValidationError)
		return nil, classify("find project", err)
	}
	if project == nil || !project.IsActive {
		s.metrics.Validation(metrics.ValidationInvalid)
		return nil, nil
	}

	validated := &db.ValidatedAPIKey{APIKey: *key, Project: *project}
	if err := s.cache.Put(ctx, keyHash, validated, s.cacheTTL); err != nil {
		s.log.Warn("validation cache write failed", zap.Int64("key_id", key.ID), zap.Error(err))
	}
	s.touch(ctx, key.ID, now)

	s.metrics.Validation(metrics.ValidationValid)
	return validated, nil
}

// touch records last use in the background; failures are logged only.
func (s *APIKeyService) touch(ctx context.Context, keyID int64, at time.Time) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lastUsedTimeout)
		defer cancel()

		err := s.keys.UpdateLastUsed(ctx, keyID, at)
		s.metrics.LastUsedUpdate(err)
		if err != nil {
			s.log.Warn("update last used failed", zap.Int64("key_id", keyID), zap.Error(err))
		}
	}()
}

// Wait blocks until background last-used writes have finished.
func (s *APIKeyService) Wait() {
	s.background.Wait()
}

func (s *APIKeyService) Get(ctx context.Context, id int64) (*db.APIKey, error) {
	key, err := s.keys.FindByID(ctx, id)
	if err != nil {
		return nil, classify("find api key", err)
	}
	if key == nil {
		return nil, fmt.Errorf("api key %d: %w", id, ErrNotFound)
	}
	return key, nil
}

func (s *APIKeyService) ListByProject(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	if _, err := s.project(ctx, projectID); err != nil {
		return nil, err
	}
	keys, err := s.keys.FindByProjectID(ctx, projectID)
	return keys, classify("list api keys", err)
}

func (s *APIKeyService) ListActiveByProject(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	if _, err := s.project(ctx, projectID); err != nil {
		return nil, err
	}
	keys, err := s.keys.FindActiveByProjectID(ctx, projectID)
	return keys, classify("list active api keys", err)
}

func (s *APIKeyService) FindByPrefix(ctx context.Context, prefix string) ([]db.APIKey, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("%w: prefix is required", ErrMalformedInput)
	}
	keys, err := s.keys.FindByPrefix(ctx, prefix)
	return keys, classify("find api keys by prefix", err)
}

// Update changes name, active flag or expiry. Revoked and expired keys are
// frozen.
func (s *APIKeyService) Update(ctx context.Context, id int64, upd repository.APIKeyUpdate) (*db.APIKey, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrMalformedInput)
	}
	if upd.ClearExpiry && upd.ExpiresAt != nil {
		return nil, fmt.Errorf("%w: expires_at and clear_expiry are exclusive", ErrMalformedInput)
	}
	if upd.KeyName != nil {
		name := strings.TrimSpace(*upd.KeyName)
		if name == "" {
			return nil, fmt.Errorf("%w: key name must not be empty", ErrMalformedInput)
		}
		upd.KeyName = &name
	}

	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch key.State(s.clock.Now()) {
	case db.KeyStateRevoked:
		return nil, ErrKeyRevoked
	case db.KeyStateExpired:
		return nil, ErrKeyExpired
	}

	updated, err := s.keys.Update(ctx, id, upd)
	if err != nil {
		return nil, classify("update api key", err)
	}
	s.invalidate(ctx, key.KeyHash)
	return updated, nil
}

// Revoke deactivates a key. Revoking an already revoked key succeeds.
func (s *APIKeyService) Revoke(ctx context.Context, id int64) (*db.APIKey, error) {
	revoked, err := s.keys.Revoke(ctx, id)
	if err != nil {
		return nil, classify(fmt.Sprintf("revoke api key %d", id), err)
	}
	s.invalidate(ctx, revoked.KeyHash)
	s.log.Info("api key revoked", zap.Int64("key_id", id), zap.Int64("project_id", revoked.ProjectID))
	return revoked, nil
}

// Rotate revokes an active key and issues its replacement for the same
// project, name suffixed and expiry carried over. Concurrent rotations of
// one key are serialised by a lock when a locker is configured.
func (s *APIKeyService) Rotate(ctx context.Context, id int64) (*RotateResult, error) {
	release, err := s.lockRotation(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !key.IsActive {
		return nil, ErrAlreadyRevoked
	}
	if _, err := s.activeProject(ctx, key.ProjectID); err != nil {
		return nil, err
	}

	s.invalidate(ctx, key.KeyHash)
	revoked, err := s.keys.Revoke(ctx, id)
	if err != nil {
		return nil, classify("revoke api key", err)
	}

	generated, err := s.Generate(ctx, key.ProjectID, key.KeyName+rotatedSuffix, key.ExpiresAt)
	if err != nil {
		return nil, err
	}

	s.log.Info("api key rotated",
		zap.Int64("old_key_id", id),
		zap.Int64("new_key_id", generated.Key.ID),
		zap.Int64("project_id", key.ProjectID),
	)
	return &RotateResult{Revoked: *revoked, Generated: *generated}, nil
}

func (s *APIKeyService) lockRotation(ctx context.Context, id int64) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	name := "apikey:rotate:" + strconv.FormatInt(id, 10)
	token, ok, err := s.locker.TryLock(ctx, name, s.lockTTL)
	if err != nil {
		// Lock backend down: proceed unserialised rather than block rotation.
		s.log.Warn("rotate lock unavailable", zap.Int64("key_id", id), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: api key %d is already being rotated", ErrConflict, id)
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), name, token); err != nil {
			s.log.Warn("rotate lock release failed", zap.Int64("key_id", id), zap.Error(err))
		}
	}, nil
}

// Delete removes a key permanently.
func (s *APIKeyService) Delete(ctx context.Context, id int64) error {
	key, err := s.keys.FindByID(ctx, id)
	if err != nil {
		s.log.Warn("lookup before delete failed", zap.Int64("key_id", id), zap.Error(err))
	} else if key != nil {
		s.invalidate(ctx, key.KeyHash)
	}

	deleted, err := s.keys.Delete(ctx, id)
	if err != nil {
		return classify("delete api key", err)
	}
	if !deleted {
		return fmt.Errorf("api key %d: %w", id, ErrNotFound)
	}
	s.log.Info("api key deleted", zap.Int64("key_id", id))
	return nil
}

// DeleteProjectKeys removes every key of a project and returns how many went.
func (s *APIKeyService) DeleteProjectKeys(ctx context.Context, projectID int64) (int64, error) {
	if _, err := s.project(ctx, projectID); err != nil {
		return 0, err
	}
	keys, err := s.keys.FindByProjectID(ctx, projectID)
	if err != nil {
		return 0, classify("list api keys", err)
	}
	for _, k := range keys {
		s.invalidate(ctx, k.KeyHash)
	}
	n, err := s.keys.DeleteByProjectID(ctx, projectID)
	if err != nil {
		return 0, classify("delete project api keys", err)
	}
	s.log.Info("project api keys deleted", zap.Int64("project_id", projectID), zap.Int64("count", n))
	return n, nil
}

func (s *APIKeyService) invalidate(ctx context.Context, keyHash string) {
	if keyHash == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, keyHash); err != nil {
		s.log.Warn("validation cache invalidate failed", zap.Error(err))
	}
}

func (s *APIKeyService) project(ctx context.Context, projectID int64) (*db.Project, error) {
	p, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, classify("find project", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}
	return p, nil
}

func (s *APIKeyService) activeProject(ctx context.Context, projectID int64) (*db.Project, error) {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProjectInactive
	}
	return p, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
