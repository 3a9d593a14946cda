package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"bashbook/config"
	"bashbook/domain"
	"bashbook/storage"
)

func TestProvisionSeedsDataFileOnce(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cfg := config.Default()
	cfg.DataFile = filepath.Join(t.TempDir(), "party", "db.json")

	if err := provision(context.Background(), cfg, logger); err != nil {
		t.Fatalf("provision: %v", err)
	}
	raw, err := os.ReadFile(cfg.DataFile)
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("expected empty list, got %s", raw)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Data["created"] != true {
		t.Fatalf("expected created=true log, got %#v", entry)
	}

	if err := os.WriteFile(cfg.DataFile, []byte(`[{"id":"1","text":"Alice","completed":false}]`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := provision(context.Background(), cfg, logger); err != nil {
		t.Fatalf("second provision: %v", err)
	}
	raw, _ = os.ReadFile(cfg.DataFile)
	if !strings.Contains(string(raw), "Alice") {
		t.Fatalf("expected existing data kept, got %s", raw)
	}
}

func TestNewLoggerHonoursConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Debug = true
	cfg.LogFormat = "json"

	logger := newLogger(cfg)
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected json formatter, got %T", logger.Formatter)
	}

	if plain := newLogger(config.Default()); plain.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level by default, got %v", plain.GetLevel())
	}
}

func TestOpenStoreWrapsFileInCache(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()

	cfg := config.Default()
	cfg.DataFile = filepath.Join(t.TempDir(), "db.json")
	cfg.RedisConnectionString = "redis://" + mr.Addr()
	cfg.CacheTTL = config.Duration{Duration: time.Minute}

	fs := storage.NewFileStore(cfg.DataFile)
	if _, err := fs.EnsureFile(context.Background()); err != nil {
		t.Fatalf("ensure file: %v", err)
	}

	store, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*storage.Cache); !ok {
		t.Fatalf("expected cached store, got %T", store)
	}

	if err := store.Replace(context.Background(), []domain.Guest{{ID: "1", Text: "Alice"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	guests, err := store.Load(context.Background())
	if err != nil || len(guests) != 1 {
		t.Fatalf("load: %v %#v", err, guests)
	}
	if !mr.Exists("guests:" + cfg.GuestList) {
		t.Fatalf("expected list cached in redis")
	}
}

func TestOpenStoreFileWithoutCache(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cfg := config.Default()
	cfg.DataFile = filepath.Join(t.TempDir(), "missing.json")

	store, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*storage.FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning about missing data file")
	}
}

func TestOpenNotifierDefaultsToNop(t *testing.T) {
	n, err := openNotifier(config.Default())
	if err != nil {
		t.Fatalf("open notifier: %v", err)
	}
	if _, ok := n.(storage.NopNotifier); !ok {
		t.Fatalf("expected nop notifier, got %T", n)
	}
}
