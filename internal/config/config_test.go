package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repricer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := domain.DefaultConfig()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("expected port %d, got %d", def.Server.Port, cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected components: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Engine.TaxPercent != def.Engine.TaxPercent {
		t.Errorf("expected tax %v, got %v", def.Engine.TaxPercent, cfg.Engine.TaxPercent)
	}
	if cfg.Engine.CommissionFor(domain.MarketplaceMagalu) != 12.5 {
		t.Errorf("expected magalu commission 12.5, got %v", cfg.Engine.CommissionFor(domain.MarketplaceMagalu))
	}
	if cfg.Cache.FeedTTL != time.Minute {
		t.Errorf("expected feed ttl 1m, got %v", cfg.Cache.FeedTTL)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
default_seller_id: seller-001
server:
  port: 9090
engine:
  buybox_policy: undercut_cent
  run_timeout: 45s
  commissions:
    magalu: 10
worker:
  enabled: true
  seller_ids: [seller-001, seller-002]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DefaultSellerID != "seller-001" {
		t.Errorf("expected default seller, got %q", cfg.DefaultSellerID)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.BuyboxPolicy != domain.BuyboxUndercutCent {
		t.Errorf("expected undercut_cent, got %s", cfg.Engine.BuyboxPolicy)
	}
	if cfg.Engine.RunTimeout != 45*time.Second {
		t.Errorf("expected 45s run timeout, got %v", cfg.Engine.RunTimeout)
	}
	if cfg.Engine.CommissionFor(domain.MarketplaceMagalu) != 10 {
		t.Errorf("expected overridden magalu commission, got %v", cfg.Engine.CommissionFor(domain.MarketplaceMagalu))
	}
	if cfg.Engine.CommissionFor(domain.MarketplaceMLPremium) != 18 {
		t.Errorf("expected default premium commission kept, got %v", cfg.Engine.CommissionFor(domain.MarketplaceMLPremium))
	}
	if !cfg.Worker.Enabled || len(cfg.Worker.SellerIDs) != 2 {
		t.Errorf("unexpected worker config: %+v", cfg.Worker)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPRICER_SERVER_PORT", "7070")
	t.Setenv("REPRICER_REPOSITORY_SQLITE_PATH", "/tmp/other.db")
	t.Setenv("REPRICER_ENGINE_MAX_WORKERS", "2")
	t.Setenv("REPRICER_DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Repository.SQLitePath != "/tmp/other.db" {
		t.Errorf("expected sqlite path override, got %s", cfg.Repository.SQLitePath)
	}
	if cfg.Engine.MaxWorkers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadScaledProfile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REPRICER_PROFILE", "scaled")
	t.Setenv("REPRICER_WORKER_SELLER_IDS", "seller-001")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.Type != "redis" || cfg.EventBus.Type != "nats" {
		t.Errorf("unexpected components: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if len(cfg.Worker.SellerIDs) != 1 || cfg.Worker.SellerIDs[0] != "seller-001" {
		t.Errorf("unexpected seller ids: %v", cfg.Worker.SellerIDs)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing explicit file")
		}
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("REPRICER_PROFILE", "enterprise")
		if _, err := Load(""); err == nil {
			t.Error("expected error for unknown profile")
		}
	})

	t.Run("InvalidDriver", func(t *testing.T) {
		path := writeConfig(t, "repository:\n  driver: mysql\n")
		if _, err := Load(path); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"CacheType", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"BusType", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"BuyboxPolicy", func(c *domain.Config) { c.Engine.BuyboxPolicy = "highest" }},
		{"NegativeTolerance", func(c *domain.Config) { c.Engine.VarianceTolerance = -1 }},
		{"TaxTooHigh", func(c *domain.Config) { c.Engine.TaxPercent = 100 }},
		{"UnknownCommission", func(c *domain.Config) { c.Engine.Commissions["ebay"] = 10 }},
		{"WorkerWithoutSellers", func(c *domain.Config) { c.Worker.Enabled = true }},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "seller_id", "seller-001")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, `"seller_id":"seller-001"`) {
		t.Errorf("expected json attributes, got %q", out)
	}

	buf.Reset()
	NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf).Debug("trace me")
	if !strings.Contains(buf.String(), "msg=\"trace me\"") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
