package authz

import (
	"log/slog"
	"net/http"

	"xmtp-legacy/internal/jwtsigner"
	"xmtp-legacy/services/gateway/internal/middleware"
	"xmtp-legacy/services/gateway/internal/observability/metrics"
	obsmw "xmtp-legacy/services/gateway/internal/observability/middleware"
)

// OperatorRole is the role claim operator tokens must carry.
const OperatorRole = "operator"

// OperatorValidator guards admin routes with EdDSA JWTs minted by msgctl.
type OperatorValidator struct {
	verifier *jwtsigner.Signer
}

func NewOperatorValidator(verifier *jwtsigner.Signer) *OperatorValidator {
	return &OperatorValidator{verifier: verifier}
}

func (o *OperatorValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues("operator", result).Inc()
		}()
		reqID := obsmw.RequestIDFromContext(r.Context())
		traceID := obsmw.TraceIDFromContext(r.Context())

		if o.verifier == nil {
			result = "failure"
			http.Error(w, "admin routes disabled", http.StatusForbidden)
			return
		}
		tokStr, ok := bearer(r)
		if !ok {
			result = "failure"
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			slog.Warn("gateway operator missing bearer", "request_id", reqID, "trace_id", traceID)
			return
		}
		claims, err := o.verifier.Verify(tokStr)
		if err != nil {
			result = "failure"
			http.Error(w, "invalid token", http.StatusUnauthorized)
			slog.Warn("gateway operator invalid token", "error", err, "request_id", reqID, "trace_id", traceID)
			return
		}
		if role, _ := claims["role"].(string); role != OperatorRole {
			result = "failure"
			http.Error(w, "forbidden", http.StatusForbidden)
			slog.Warn("gateway operator wrong role", "role", role, "request_id", reqID, "trace_id", traceID)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			result = "failure"
			http.Error(w, "no subject", http.StatusUnauthorized)
			return
		}
		slog.Info("gateway operator access", "subject", sub, "path", r.URL.Path, "request_id", reqID, "trace_id", traceID)
		next.ServeHTTP(w, r.WithContext(middleware.WithOperator(r.Context(), sub)))
	})
}
