package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/overgate-io/overgate/internal/observability"
)

// Recovery turns panics escaping the handler chain into the gateway's
// generic internal-error response. Stack detail goes to the log only.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.String("request_id", observability.RequestIDFromContext(r.Context())),
						observability.Any("error", rec),
						observability.String("stack", string(debug.Stack())),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, `{"code":"INTERNAL_ERROR","message":"internal error"}`)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
