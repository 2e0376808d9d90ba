package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/httpx"
	"go.uber.org/zap"
)

const apiKeyHeader = "X-API-Key"

// KeyValidator authenticates a plaintext project key. A nil result with a
// nil error means the key is not valid.
type KeyValidator interface {
	Validate(ctx context.Context, plainTextKey string) (*db.ValidatedAPIKey, error)
}

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
	keys       KeyValidator
	keyTag     string
	log        *zap.Logger
}

func NewAuth(jwtManager *auth.JWTManager, keys KeyValidator, keyTag string, log *zap.Logger) *AuthMiddleware {
	if keyTag == "" {
		keyTag = auth.DefaultKeyTag
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthMiddleware{
		jwtManager: jwtManager,
		keys:       keys,
		keyTag:     keyTag,
		log:        log.Named("auth"),
	}
}

// RequireAPIKey authenticates a project key from X-API-Key or from a bearer
// token carrying the key tag.
func (m *AuthMiddleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.extractAPIKey(r)
		if key == "" {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing API key", nil)
			return
		}

		validated, err := m.keys.Validate(r.Context(), key)
		if err != nil {
			m.log.Warn("api key validation unavailable", zap.String("key_prefix", auth.ExtractKeyPrefix(key, m.keyTag)), zap.Error(err))
			httpx.Error(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "authentication temporarily unavailable", nil)
			return
		}
		if validated == nil {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid or expired API key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(withProject(r.Context(), validated)))
	})
}

// RequireAdmin admits only bearer JWTs issued to an admin.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token", nil)
			return
		}

		claims, err := m.jwtManager.Verify(tokenStr)
		if err != nil {
			httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid token", nil)
			return
		}
		if claims.Role != db.RoleAdmin {
			httpx.Error(w, http.StatusForbidden, httpx.CodeForbidden, "admin role required", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (m *AuthMiddleware) extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	if token := bearerToken(r); strings.HasPrefix(token, m.keyTag) {
		return token
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
