package authz

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"xmtp-legacy/services/gateway/internal/middleware"
	"xmtp-legacy/services/gateway/internal/observability/metrics"
	obsmw "xmtp-legacy/services/gateway/internal/observability/middleware"
	"xmtp-legacy/services/messages/pkg/envelope"
)

// XMTPTokenValidator admits requests carrying a client auth token: a
// wallet-signed identity key that signed a fresh AuthData statement.
type XMTPTokenValidator struct {
	maxAge time.Duration
	now    func() time.Time
}

func NewXMTPTokenValidator(maxAge time.Duration) *XMTPTokenValidator {
	return &XMTPTokenValidator{maxAge: maxAge, now: time.Now}
}

func (v *XMTPTokenValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("xmtp", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())
		traceID := obsmw.TraceIDFromContext(r.Context())

		tokStr, ok := bearer(r)
		if !ok {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("gateway auth missing bearer", "request_id", reqID, "trace_id", traceID)
			return
		}
		token, err := envelope.ParseAuthToken(tokStr)
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("gateway auth malformed token", "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		data, err := token.Verify(v.now(), v.maxAge)
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("gateway auth invalid token", "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}

		ctx := middleware.WithWallet(r.Context(), data.WalletAddr)
		slog.Debug("gateway auth passed", "method", "xmtp", "wallet", data.WalletAddr, "request_id", reqID, "trace_id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearer(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(raw[len("Bearer "):])
	return tok, tok != ""
}
