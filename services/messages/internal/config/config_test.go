package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Load()
	if cfg.Addr != ":8084" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.SubscribePollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.SubscribePollInterval)
	}
	if cfg.SubscribeSettle != 2*time.Second {
		t.Fatalf("unexpected settle window %v", cfg.SubscribeSettle)
	}
	if cfg.MaxPageSize != 100 {
		t.Fatalf("unexpected page size %d", cfg.MaxPageSize)
	}
}

func TestLoadOverridesAndInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MESSAGES_ADDR", ":9999")
	t.Setenv("MESSAGES_SUBSCRIBE_POLL_MS", "-5")
	t.Setenv("MESSAGES_MAX_PAGE_SIZE", "zero")
	t.Setenv("MESSAGES_MAX_BATCH_QUERIES", "0")
	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("expected override, got %q", cfg.Addr)
	}
	if cfg.SubscribePollInterval != 500*time.Millisecond {
		t.Fatalf("expected default poll interval, got %v", cfg.SubscribePollInterval)
	}
	if cfg.MaxPageSize != 100 || cfg.MaxBatchQueries != 50 {
		t.Fatalf("expected defaults, got %d/%d", cfg.MaxPageSize, cfg.MaxBatchQueries)
	}
}
