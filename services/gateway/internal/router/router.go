// Package router assembles the gateway's public HTTP surface.
package router

import (
	"encoding/json"
	"net/http"
	"net/url"

	"xmtp-legacy/internal/httpx"
	"xmtp-legacy/internal/jwtsigner"
	"xmtp-legacy/services/gateway/internal/authz"
	"xmtp-legacy/services/gateway/internal/config"
	gwmw "xmtp-legacy/services/gateway/internal/middleware"
	obsmw "xmtp-legacy/services/gateway/internal/observability/middleware"
	"xmtp-legacy/services/gateway/internal/proxy"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New builds the gateway router. operator may be nil, which disables the
// admin routes.
func New(cfg config.Config, operator *jwtsigner.Signer) (http.Handler, error) {
	keysProxy := proxy.New("keys", cfg.KeysBaseURL, cfg.UpstreamTimeout, cfg.Debug)
	messagesProxy := proxy.New("messages", cfg.MessagesBaseURL, cfg.UpstreamTimeout, cfg.Debug)
	wsProxy, err := proxy.NewWebsocketProxy("messages", cfg.MessagesBaseURL)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(obsmw.WithRequestAndTrace)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithMetrics)
	r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateWindow))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httpx.LogRequests)
	r.Use(gwmw.PropagateRequestID())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if operator != nil {
		jwks, err := json.Marshal(map[string]any{"keys": []any{operator.PublicJWK()}})
		if err != nil {
			return nil, err
		}
		r.Get("/.well-known/operator-jwks.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(jwks)
		})
	}

	// Subscriptions are long-lived and stay outside the request timeout.
	r.Get("/message/v1/subscribe", wsProxy.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.RequestTimeout))

		r.Post("/keys/contact", keysProxy.Forward("/keys/contact"))
		r.Get("/keys/contact", keysProxy.Forward("/keys/contact"))

		r.With(authz.NewXMTPTokenValidator(cfg.TokenMaxAge).Middleware).
			Post("/message/v1/publish", messagesProxy.Forward("/message/v1/publish"))
		r.Post("/message/v1/query", messagesProxy.Forward("/message/v1/query"))
		r.Post("/message/v1/batch-query", messagesProxy.Forward("/message/v1/batch-query"))

		r.Group(func(r chi.Router) {
			r.Use(authz.NewOperatorValidator(operator).Middleware)
			r.Get("/admin/metrics", promhttp.Handler().ServeHTTP)
			r.Delete("/admin/contacts/{address}", keysProxy.ForwardQuery("/keys/admin/contact", func(r *http.Request) url.Values {
				return url.Values{"address": {chi.URLParam(r, "address")}}
			}))
		})
	})

	return r, nil
}
