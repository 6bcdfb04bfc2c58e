package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"xmtp-legacy/services/messages/internal/config"
	"xmtp-legacy/services/messages/internal/observability/logging"
	"xmtp-legacy/services/messages/internal/observability/metrics"
	"xmtp-legacy/services/messages/internal/observability/middleware"
	"xmtp-legacy/services/messages/internal/service"
	"xmtp-legacy/services/messages/internal/store"
	transport "xmtp-legacy/services/messages/internal/transport/http"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "messages",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})

	slog.SetDefault(logger)
	metrics.MustRegister("messages")

	logger.Info("starting service", "driver", cfg.DatabaseDriver)

	db, err := openDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	svc := service.New(st, service.Options{
		MaxPageSize:      cfg.MaxPageSize,
		MaxBatchQueries:  cfg.MaxBatchQueries,
		MaxEnvelopeBytes: cfg.MaxEnvelopeBytes,
		SettleWindow:     cfg.SubscribeSettle,
	})
	mux := transport.NewRouter(svc, cfg.SubscribePollInterval)

	handler := middleware.WithRequestAndTrace(middleware.WithMetrics(mux))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("messages service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// openDB connects to postgres in deployments and to a sqlite file for local
// single-node runs.
func openDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
