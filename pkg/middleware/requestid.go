package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/omnisource/ingest/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a UUID (honoring an inbound X-Request-ID)
// and stores it in the context for request-scoped logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
