package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile_Defaults(t *testing.T) {
	cfg, err := loadConfigFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8710" {
		t.Errorf("addr default: got %q", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout default: got %v", cfg.ShutdownTimeout)
	}
	if cfg.RateLimit {
		t.Error("rate limiting must be off by default")
	}
}

func TestLoadConfigFile_RateLimitFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evcap.yaml")
	data := []byte("addr: \"127.0.0.1:9000\"\nrate_limit: true\npages:\n  - https://example.com\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.RateLimit {
		t.Error("rate_limit not parsed")
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("addr: got %q", cfg.Addr)
	}
	if len(cfg.Pages) != 1 {
		t.Errorf("pages: got %d", len(cfg.Pages))
	}
}
