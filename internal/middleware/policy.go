package middleware

import (
	"context"
	"net/http"

	"github.com/raakeshmj/keyplane/internal/policy"
)

// PolicyEnforcer evaluates the request and attaches the matching policy, if
// any, to the context.
func PolicyEnforcer(engine *policy.Engine) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := engine.Evaluate(r); p != nil {
				r = r.WithContext(context.WithValue(r.Context(), policyContextKey, p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPolicy returns the policy attached by PolicyEnforcer, or nil.
func GetPolicy(ctx context.Context) *policy.Policy {
	if p, ok := ctx.Value(policyContextKey).(*policy.Policy); ok {
		return p
	}
	return nil
}
