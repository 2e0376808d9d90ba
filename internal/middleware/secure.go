package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/httpx"
)

type SecurityConfig struct {
	// HSTS is only sent when enabled; it is meaningless over plain HTTP.
	HSTS bool
	// ReplayWindow > 0 requires an X-Timestamp (unix seconds) within the
	// window on state-changing requests.
	ReplayWindow time.Duration
	Clock        clock.Clock
}

func SecureHeaders(cfg SecurityConfig) Middleware {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			if cfg.ReplayWindow > 0 && !isSafeMethod(r.Method) {
				ts := r.Header.Get("X-Timestamp")
				if ts == "" {
					httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, "missing X-Timestamp header", nil)
					return
				}
				reqTime, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					httpx.Error(w, http.StatusBadRequest, httpx.CodeBadRequest, "invalid X-Timestamp header", nil)
					return
				}
				skew := cfg.Clock.Now().Sub(time.Unix(reqTime, 0))
				if skew < 0 {
					skew = -skew
				}
				if skew > cfg.ReplayWindow {
					httpx.Error(w, http.StatusForbidden, httpx.CodeForbidden, "request timestamp outside allowed window", nil)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
