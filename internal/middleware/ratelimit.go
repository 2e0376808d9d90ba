package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/raakeshmj/keyplane/internal/config"
	"github.com/raakeshmj/keyplane/internal/httpx"
	"github.com/raakeshmj/keyplane/internal/limiter"
	"github.com/raakeshmj/keyplane/internal/metrics"
)

const projectWindow = time.Minute

type rateLimitDetails struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

// GlobalRateLimit limits every client IP before routing. A matching policy
// with its own limit overrides the dynamic global policy; exempt policies
// skip the limiter entirely.
func GlobalRateLimit(l limiter.Limiter, cfgMgr *config.DynamicConfigManager, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPolicy(r.Context())
			if p != nil && p.Rules.Exempt {
				next.ServeHTTP(w, r)
				return
			}

			global := cfgMgr.GetPolicy()
			limit, window := global.GlobalLimit, global.Window()
			key, scope := "global:"+clientIP(r), "global"
			if p != nil && p.Rules.RateLimit > 0 {
				limit, window = p.Rules.RateLimit, p.Rules.Window()
				key, scope = "policy:"+p.ID+":"+clientIP(r), "policy"
			}

			res := l.Check(r.Context(), key, limit, window)
			m.RateLimit(scope, res.Allowed)
			writeRateLimitHeaders(w, res)
			if !res.Allowed {
				tooManyRequests(w, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProjectRateLimit applies the authenticated project's per-minute limit.
// It must run after RequireAPIKey.
func ProjectRateLimit(l limiter.Limiter, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, ok := ProjectFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := "project:" + strconv.FormatInt(v.Project.ID, 10)
			res := l.Check(r.Context(), key, v.Project.RateLimitPerMinute, projectWindow)
			m.RateLimit("project", res.Allowed)
			writeRateLimitHeaders(w, res)
			if !res.Allowed {
				tooManyRequests(w, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoginRateLimit guards credential endpoints with an in-process per-IP limit
// that holds even when Redis is unreachable.
func LoginRateLimit(requestsPerMinute int) Middleware {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Error(w, http.StatusTooManyRequests, httpx.CodeRateLimitExceeded, "too many login attempts", nil)
		}),
	)
}

func writeRateLimitHeaders(w http.ResponseWriter, res limiter.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
}

func tooManyRequests(w http.ResponseWriter, res limiter.Result) {
	httpx.Error(w, http.StatusTooManyRequests, httpx.CodeRateLimitExceeded, "rate limit exceeded", rateLimitDetails{
		Limit:     res.Limit,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt.UTC().Format(time.RFC3339),
	})
}

// clientIP keys on the connection address. RealIP rewrites RemoteAddr first
// when the deployment trusts a proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
