package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"xmtp-legacy/services/keys/internal/config"
	"xmtp-legacy/services/keys/internal/observability/logging"
	"xmtp-legacy/services/keys/internal/observability/metrics"
	"xmtp-legacy/services/keys/internal/observability/middleware"
	"xmtp-legacy/services/keys/internal/service"
	"xmtp-legacy/services/keys/internal/store"
	httptransport "xmtp-legacy/services/keys/internal/transport/http"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "keys",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("keys")

	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		logger.Error("config", "error", fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver))
		os.Exit(1)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}
	svc := service.New(st)
	mux := httptransport.NewRouter(svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           middleware.WithRequestAndTrace(middleware.WithMetrics(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("keys service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
