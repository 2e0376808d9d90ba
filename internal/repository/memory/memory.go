package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository"
)

// Store bundles in-memory repositories. Records are copied in and out, so
// callers never share mutable state with the store.
type Store struct {
	Keys     *APIKeyRepository
	Projects *ProjectRepository
	Users    *UserRepository
}

func New() *Store {
	return &Store{
		Keys:     NewAPIKeyRepository(),
		Projects: NewProjectRepository(),
		Users:    NewUserRepository(),
	}
}

func now() time.Time { return time.Now().UTC() }

// APIKey Repo Implementation
type APIKeyRepository struct {
	mu     sync.RWMutex
	nextID int64
	keys   map[int64]*db.APIKey
}

func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{keys: make(map[int64]*db.APIKey)}
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id int64) (*db.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.keys[id]; ok {
		c := *k
		return &c, nil
	}
	return nil, nil
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	if keyHash == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.keys {
		if k.KeyHash == keyHash {
			c := *k
			return &c, nil
		}
	}
	return nil, nil
}

func (r *APIKeyRepository) FindByPrefix(ctx context.Context, keyPrefix string) ([]db.APIKey, error) {
	return r.filter(func(k *db.APIKey) bool { return keyPrefix != "" && k.KeyPrefix == keyPrefix }), nil
}

func (r *APIKeyRepository) FindByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	return r.filter(func(k *db.APIKey) bool { return k.ProjectID == projectID }), nil
}

func (r *APIKeyRepository) FindActiveByProjectID(ctx context.Context, projectID int64) ([]db.APIKey, error) {
	return r.filter(func(k *db.APIKey) bool { return k.ProjectID == projectID && k.IsActive }), nil
}

func (r *APIKeyRepository) filter(match func(*db.APIKey) bool) []db.APIKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]db.APIKey, 0)
	for _, k := range r.keys {
		if match(k) {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *APIKeyRepository) Create(ctx context.Context, key *db.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.KeyHash != "" {
		for _, k := range r.keys {
			if k.KeyHash == key.KeyHash {
				return repository.ErrDuplicate
			}
		}
	}
	r.nextID++
	key.ID = r.nextID
	ts := now()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = ts
	}
	key.UpdatedAt = ts
	c := *key
	r.keys[key.ID] = &c
	return nil
}

func (r *APIKeyRepository) UpdateHashAndPrefix(ctx context.Context, id int64, keyHash, keyPrefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	for oid, other := range r.keys {
		if oid != id && keyHash != "" && other.KeyHash == keyHash {
			return repository.ErrDuplicate
		}
	}
	k.KeyHash = keyHash
	k.KeyPrefix = keyPrefix
	k.UpdatedAt = now()
	return nil
}

func (r *APIKeyRepository) Update(ctx context.Context, id int64, upd repository.APIKeyUpdate) (*db.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.KeyName != nil {
		k.KeyName = *upd.KeyName
	}
	if upd.IsActive != nil {
		k.IsActive = *upd.IsActive
	}
	if upd.ExpiresAt != nil {
		t := *upd.ExpiresAt
		k.ExpiresAt = &t
	}
	if upd.ClearExpiry {
		k.ExpiresAt = nil
	}
	k.UpdatedAt = now()
	c := *k
	return &c, nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id int64) (*db.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	k.IsActive = false
	k.UpdatedAt = now()
	c := *k
	return &c, nil
}

func (r *APIKeyRepository) Delete(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return false, nil
	}
	delete(r.keys, id)
	return true, nil
}

func (r *APIKeyRepository) DeleteByProjectID(ctx context.Context, projectID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, k := range r.keys {
		if k.ProjectID == projectID {
			delete(r.keys, id)
			n++
		}
	}
	return n, nil
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	k.LastUsedAt = &t
	return nil
}

// Project Repo Implementation
type ProjectRepository struct {
	mu       sync.RWMutex
	nextID   int64
	projects map[int64]*db.Project
}

func NewProjectRepository() *ProjectRepository {
	return &ProjectRepository{projects: make(map[int64]*db.Project)}
}

func (r *ProjectRepository) Create(ctx context.Context, project *db.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Name == project.Name {
			return repository.ErrDuplicate
		}
	}
	r.nextID++
	project.ID = r.nextID
	ts := now()
	project.CreatedAt = ts
	project.UpdatedAt = ts
	c := *project
	r.projects[project.ID] = &c
	return nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id int64) (*db.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.projects[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *ProjectRepository) FindByName(ctx context.Context, name string) (*db.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.projects {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (r *ProjectRepository) FindAll(ctx context.Context, page repository.Pagination) ([]db.Project, int64, error) {
	page = page.Normalize()
	all := r.filter(func(*db.Project) bool { return true })

	sort.SliceStable(all, func(i, j int) bool {
		less := lessProject(all[i], all[j], page.SortBy)
		if page.SortOrder == repository.SortDesc {
			return lessProject(all[j], all[i], page.SortBy)
		}
		return less
	})

	total := int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return []db.Project{}, total, nil
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func lessProject(a, b db.Project, field string) bool {
	switch field {
	case "name":
		return strings.Compare(a.Name, b.Name) < 0
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	case "id":
		return a.ID < b.ID
	default:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (r *ProjectRepository) FindByEnvironment(ctx context.Context, env db.Environment) ([]db.Project, error) {
	return r.filter(func(p *db.Project) bool { return p.Environment == env }), nil
}

func (r *ProjectRepository) FindActive(ctx context.Context) ([]db.Project, error) {
	return r.filter(func(p *db.Project) bool { return p.IsActive }), nil
}

func (r *ProjectRepository) filter(match func(*db.Project) bool) []db.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]db.Project, 0, len(r.projects))
	for _, p := range r.projects {
		if match(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *ProjectRepository) Update(ctx context.Context, id int64, upd repository.ProjectUpdate) (*db.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Name != nil {
		for oid, other := range r.projects {
			if oid != id && other.Name == *upd.Name {
				return nil, repository.ErrDuplicate
			}
		}
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	if upd.Provider != nil {
		p.Provider = *upd.Provider
	}
	if upd.ProviderAPIKeyEncrypted != nil {
		p.ProviderAPIKeyEncrypted = *upd.ProviderAPIKeyEncrypted
	}
	if upd.DefaultFromEmail != nil {
		p.DefaultFromEmail = *upd.DefaultFromEmail
	}
	if upd.DefaultFromName != nil {
		p.DefaultFromName = upd.DefaultFromName
	}
	if upd.ReplyToEmail != nil {
		p.ReplyToEmail = upd.ReplyToEmail
	}
	if upd.Domain != nil {
		p.Domain = upd.Domain
	}
	if upd.WebhookURL != nil {
		p.WebhookURL = upd.WebhookURL
	}
	if upd.RateLimitPerMinute != nil {
		p.RateLimitPerMinute = *upd.RateLimitPerMinute
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}
	if upd.Environment != nil {
		p.Environment = *upd.Environment
	}
	p.UpdatedAt = now()
	c := *p
	return &c, nil
}

func (r *ProjectRepository) ToggleActive(ctx context.Context, id int64) (*db.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.IsActive = !p.IsActive
	p.UpdatedAt = now()
	c := *p
	return &c, nil
}

func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.projects)), nil
}

// User Repo Implementation
type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*db.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*db.User)}
}

func (r *UserRepository) Create(ctx context.Context, user *db.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	r.nextID++
	user.ID = r.nextID
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	c := *user
	r.users[user.ID] = &c
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.users)), nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	return r.mutate(id, func(u *db.User) {
		tok, exp := token, expiry
		u.ResetToken = &tok
		u.ResetTokenExpiry = &exp
	})
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.mutate(id, func(u *db.User) { u.PasswordHash = hash })
}

func (r *UserRepository) ClearResetToken(ctx context.Context, id int64) error {
	return r.mutate(id, func(u *db.User) {
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
	})
}

func (r *UserRepository) mutate(id int64, fn func(*db.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = now()
	return nil
}

// Interface check
var (
	_ repository.APIKeyRepository  = (*APIKeyRepository)(nil)
	_ repository.ProjectRepository = (*ProjectRepository)(nil)
	_ repository.UserRepository    = (*UserRepository)(nil)
)
