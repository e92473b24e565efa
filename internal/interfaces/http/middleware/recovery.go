package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/turtacn/ConstructOps/internal/infrastructure/monitoring/logging"
)

// Recovery turns a panic outside the Guard into a 500 envelope.
func Recovery(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					reqID := RequestIDFromContext(r.Context())
					logger.Error("panic recovered",
						logging.String("panic", fmt.Sprint(rec)),
						logging.String("stack", string(debug.Stack())),
						logging.String("method", r.Method),
						logging.String("path", r.URL.Path),
						logging.String("request_id", reqID),
					)
					WriteError(w, reqID, time.Now(), fmt.Errorf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
