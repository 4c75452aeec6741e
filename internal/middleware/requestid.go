package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/confirmd/confirmd/internal/logger"
)

// RequestIDHeader carries the request ID back to the client.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request a unique ID, stores it in the request
// context, and echoes it in the response headers. An incoming ID from the
// client is kept so callers can correlate across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
