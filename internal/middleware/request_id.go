package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/contextkey"
)

// RequestIDMiddleware tags each request with an id for log correlation. An
// inbound X-Request-ID that parses as a UUID is kept, so ids survive proxy
// hops; anything else gets a fresh one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID, err := uuid.Parse(req.Header.Get("X-Request-ID"))
		if err != nil {
			requestID = uuid.New()
		}
		ctx := context.WithValue(req.Context(), contextkey.ContextKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID.String())
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}
