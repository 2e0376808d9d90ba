package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/cache"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	epoch      = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	testSecret = strings.Repeat("s", 32)
	errStore   = errors.New("connection reset by peer")
)

type fixture struct {
	store    *memory.Store
	cache    *cache.MemoryCache
	clock    *clock.FakeClock
	cipher   *auth.Cipher
	keys     *APIKeyService
	projects *ProjectService
	users    *UserService
}

func newFixture(t *testing.T, opts ...func(*APIKeyOptions)) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFakeClock(epoch)
	c := cache.NewMemoryCache(clk)
	cipher, err := auth.NewCipher(testSecret)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	o := APIKeyOptions{Clock: clk, Logger: log, CacheTTL: time.Minute}
	for _, fn := range opts {
		fn(&o)
	}

	f := &fixture{
		store:    store,
		cache:    c,
		clock:    clk,
		cipher:   cipher,
		keys:     NewAPIKeyService(store.Keys, store.Projects, c, o),
		projects: NewProjectService(store.Projects, store.Keys, c, cipher, log),
		users:    NewUserService(store.Users, auth.NewJWTManager(strings.Repeat("j", 32), time.Hour), clk, log),
	}
	t.Cleanup(f.keys.Wait)
	return f
}

func (f *fixture) project(t *testing.T, name string) *db.Project {
	t.Helper()
	p, err := f.projects.Create(context.Background(), CreateProjectInput{
		Name:             name,
		Provider:         db.ProviderResend,
		ProviderAPIKey:   "re_live_" + name,
		DefaultFromEmail: "noreply@" + name + ".test",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) key(t *testing.T, projectID int64, name string, expiresAt *time.Time) *GenerateResult {
	t.Helper()
	res, err := f.keys.Generate(context.Background(), projectID, name, expiresAt)
	require.NoError(t, err)
	return res
}

// flakyKeys fails selected calls of the in-memory key store.
type flakyKeys struct {
	*memory.APIKeyRepository
	failFind     bool
	failLastUsed bool
}

func (r *flakyKeys) FindByHash(ctx context.Context, keyHash string) (*db.APIKey, error) {
	if r.failFind {
		return nil, errStore
	}
	return r.APIKeyRepository.FindByHash(ctx, keyHash)
}

func (r *flakyKeys) UpdateLastUsed(ctx context.Context, id int64, at time.Time) error {
	if r.failLastUsed {
		return errStore
	}
	return r.APIKeyRepository.UpdateLastUsed(ctx, id, at)
}

// stubLocker records lock traffic and can refuse or fail acquisition.
type stubLocker struct {
	mu       sync.Mutex
	held     map[string]string
	fail     bool
	released int
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[string]string)}
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return "", false, errStore
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *stubLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released++
	}
	return nil
}
