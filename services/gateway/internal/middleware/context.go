package middleware

import (
	"context"
	"net/http"

	obsmw "xmtp-legacy/services/gateway/internal/observability/middleware"

	"github.com/google/uuid"
)

type ctxWalletKey struct{}

type ctxOperatorKey struct{}

func PropagateRequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := obsmw.RequestIDFromContext(r.Context())
			if id == "" {
				id = r.Header.Get("X-Request-ID")
			}
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			traceID := obsmw.TraceIDFromContext(r.Context())
			if traceID != "" {
				w.Header().Set("X-Trace-ID", traceID)
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// WithWallet records the wallet authenticated by an XMTP auth token.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxWalletKey{}, wallet)
}

func WalletFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxWalletKey{}).(string)
	return v, ok && v != ""
}

// WithOperator records the subject of a verified operator JWT.
func WithOperator(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxOperatorKey{}, sub)
}

func OperatorFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxOperatorKey{}).(string)
	return v, ok && v != ""
}
