package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zerosum/internal/config"
	"zerosum/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{RemoteBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		RemoteBackend:        "mongo",
		UserID:               "alice",
		MongoURI:             "mongodb://localhost:27017",
		MongoDB:              "zerosum",
		SQLiteDBPath:         "./data/zerosum.db",
		ViewCacheSize:        4,
		NotifyCoalesceWindow: time.Second,
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != MongoBackend || cfg.NotifyTTL != 6*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.MongoDB = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing MongoDB database")
	}
}

func TestCreateMemoryBackend(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:         MemoryBackend,
		UserID:       "alice",
		SQLiteDBPath: filepath.Join(t.TempDir(), "zerosum.db"),
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer res.Cleanup(ctx)

	b := res.Backend
	month := core.Month("2024-05")
	if _, err := b.Ledger.View(ctx, month); err != nil {
		t.Fatalf("ledger view: %v", err)
	}
	before := b.Ledger.Version()

	if _, err := b.Framework.Seed(ctx, month); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if b.Ledger.Version() == before {
		t.Error("view changes should invalidate the ledger cache")
	}

	mv, err := b.Ledger.View(ctx, month)
	if err != nil {
		t.Fatalf("ledger view: %v", err)
	}
	if mv.Totals.ReadyToAssign != 1515000 {
		t.Errorf("ReadyToAssign = %d, want 1515000", mv.Totals.ReadyToAssign)
	}
}
