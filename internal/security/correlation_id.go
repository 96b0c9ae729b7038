package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	// correlationIDMetadata is the gRPC metadata key; gRPC lowercases keys.
	correlationIDMetadata = "x-correlation-id"
)

type correlationIDKey struct{}

// CorrelationID tags every HTTP request with an id, reusing the caller's when present.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}

		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), cid)))
	})
}

// UnaryCorrelationID is the gRPC counterpart of CorrelationID.
func UnaryCorrelationID(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	cid := firstMetadata(ctx, correlationIDMetadata)
	if cid == "" {
		cid = uuid.NewString()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(correlationIDMetadata, cid))
	return handler(WithCorrelationID(ctx, cid), req)
}

func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, cid)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
