package middleware

import (
	"context"
	"strconv"

	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/db"
)

type contextKey string

const (
	policyContextKey  contextKey = "policy"
	projectContextKey contextKey = "project"
	claimsContextKey  contextKey = "claims"
	actorContextKey   contextKey = "actor"
)

// actor is installed by AuditMiddleware and filled in by the auth
// middlewares further down the chain.
type actor struct {
	id        string
	projectID int64
}

func actorFrom(ctx context.Context) *actor {
	a, _ := ctx.Value(actorContextKey).(*actor)
	return a
}

func withProject(ctx context.Context, v *db.ValidatedAPIKey) context.Context {
	if a := actorFrom(ctx); a != nil {
		a.id = "apikey:" + strconv.FormatInt(v.APIKey.ID, 10)
		a.projectID = v.Project.ID
	}
	return context.WithValue(ctx, projectContextKey, v)
}

func withClaims(ctx context.Context, c *auth.TokenClaims) context.Context {
	if a := actorFrom(ctx); a != nil {
		a.id = "user:" + strconv.FormatInt(c.UserID, 10)
	}
	return context.WithValue(ctx, claimsContextKey, c)
}

// ProjectFromContext returns the validated key attached by RequireAPIKey.
func ProjectFromContext(ctx context.Context) (*db.ValidatedAPIKey, bool) {
	v, ok := ctx.Value(projectContextKey).(*db.ValidatedAPIKey)
	return v, ok && v != nil
}

// ClaimsFromContext returns the admin claims attached by RequireAdmin.
func ClaimsFromContext(ctx context.Context) (*auth.TokenClaims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*auth.TokenClaims)
	return c, ok && c != nil
}
