package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/inspectflow/orchestrator/infrastructure/logging"
)

// RecoveryMiddleware recovers panics in downstream handlers, logs the stack
// trace, and renders them as a structured 500 rather than crashing the
// listener goroutine.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.WithContext(r.Context()).WithField("panic", fmt.Sprintf("%v", rec)).
					WithField("stack", string(debug.Stack())).
					WithField("path", r.URL.Path).
					Error("panic recovered")

				WriteErrorResponse(w, http.StatusInternalServerError, "SVC_5001", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
