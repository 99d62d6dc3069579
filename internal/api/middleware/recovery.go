package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kmathur/briefly/internal/api/response"
)

// Recovery converts handler panics into a 500 error envelope instead of a
// dropped connection. The panic value and stack go to the log only; the
// client never sees internals.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("handler panic",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
