package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"xmtp-legacy/internal/jwtsigner"
	"xmtp-legacy/services/gateway/internal/config"
	"xmtp-legacy/services/gateway/internal/observability/logging"
	"xmtp-legacy/services/gateway/internal/observability/metrics"
	"xmtp-legacy/services/gateway/internal/router"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "gateway",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("gateway")

	var operator *jwtsigner.Signer
	if cfg.OperatorPublicKey != "" {
		v, err := jwtsigner.NewVerifier(cfg.OperatorPublicKey, cfg.OperatorIssuer)
		if err != nil {
			logger.Error("operator key", "error", err)
			os.Exit(1)
		}
		operator = v
	} else {
		logger.Warn("GATEWAY_OPERATOR_PUBLIC_KEY not set; admin routes disabled")
	}

	handler, err := router.New(cfg, operator)
	if err != nil {
		logger.Error("router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway listening", "addr", cfg.Addr, "keys", cfg.KeysBaseURL, "messages", cfg.MessagesBaseURL)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
