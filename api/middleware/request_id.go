package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	RequestIDHeader   = "X-Request-Id"
	traceparentHeader = "Traceparent"
	ctxRequestID      contextKey = "request_id"
)

var (
	requestIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)
	traceparentPattern = regexp.MustCompile(`^[0-9a-f]{2}-([0-9a-f]{32})-[0-9a-f]{16}-[0-9a-f]{2}$`)
)

// RequestID picks the request id from X-Request-Id, then from a W3C
// traceparent trace id, and otherwise mints a time-ordered uuid.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolveRequestID(r.Header)
			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), ctxRequestID, id)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

func resolveRequestID(h http.Header) string {
	if id := strings.TrimSpace(h.Get(RequestIDHeader)); requestIDPattern.MatchString(id) {
		return id
	}
	if m := traceparentPattern.FindStringSubmatch(strings.TrimSpace(h.Get(traceparentHeader))); m != nil && strings.Trim(m[1], "0") != "" {
		return m[1]
	}
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
