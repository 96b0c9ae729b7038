package security

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CallerHeader carries the authenticated user id set by the upstream gateway.
// Authentication itself happens before requests reach this service.
const (
	CallerHeader   = "X-User-ID"
	callerMetadata = "x-user-id"
)

type callerKey struct{}

// WithCaller stores the caller's user id in ctx.
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerFromContext returns the caller's user id, or "" when unauthenticated.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireCaller rejects HTTP requests that carry no caller identity.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(CallerHeader))
		if userID == "" {
			WriteJSONError(w, r, http.StatusUnauthorized, "unauthenticated", "missing caller identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), userID)))
	})
}

// UnaryRequireCaller rejects gRPC calls that carry no caller identity.
func UnaryRequireCaller(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	userID := strings.TrimSpace(firstMetadata(ctx, callerMetadata))
	if userID == "" {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	return handler(WithCaller(ctx, userID), req)
}
