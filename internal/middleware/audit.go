package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/raakeshmj/keyplane/internal/audit"
)

// AuditMiddleware records every state-changing request with the actor the
// auth middlewares resolved. Reads are not audited.
func AuditMiddleware(logger audit.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			who := &actor{id: "anonymous"}
			r = r.WithContext(context.WithValue(r.Context(), actorContextKey, who))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Log(audit.LogEntry{
				Timestamp: start.UTC(),
				ActorID:   who.id,
				ProjectID: who.projectID,
				Action:    r.Method + " " + routePattern(r),
				Resource:  r.URL.Path,
				Status:    statusOf(ww),
				Metadata: map[string]interface{}{
					"remote_ip":   clientIP(r),
					"request_id":  chimw.GetReqID(r.Context()),
					"duration_ms": time.Since(start).Milliseconds(),
				},
			})
		})
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
