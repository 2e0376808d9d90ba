package middleware

import (
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/raakeshmj/keyplane/internal/circuitbreaker"
	"github.com/raakeshmj/keyplane/internal/httpx"
)

var errServerFailure = errors.New("handler responded with 5xx")

// CircuitBreakerMiddleware trips after consecutive 5xx responses and then
// sheds load with 503 until the breaker half-opens.
func CircuitBreakerMiddleware(cb *circuitbreaker.CircuitBreaker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			err := cb.Execute(r.Context(), func() error {
				next.ServeHTTP(ww, r)
				// 503 is what an unavailable store maps to; treat it like any other 5xx.
				if statusOf(ww) >= http.StatusInternalServerError {
					return errServerFailure
				}
				return nil
			})

			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				httpx.Error(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "service temporarily unavailable", nil)
			}
		})
	}
}
