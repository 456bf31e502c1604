package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"price-advisor/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Database.Driver)
	}
	if cfg.Engine.Weights != engine.DefaultWeights() {
		t.Fatalf("unexpected weights %+v", cfg.Engine.Weights)
	}
	if len(cfg.Engine.Penalties) != len(engine.DefaultPenalties()) {
		t.Fatalf("expected default penalties, got %+v", cfg.Engine.Penalties)
	}
	if cfg.Watch.Interval != 6*time.Hour {
		t.Fatalf("unexpected watch interval %s", cfg.Watch.Interval)
	}
	tiers, err := cfg.NotifyTiers()
	if err != nil || len(tiers) != 2 {
		t.Fatalf("unexpected notify tiers %v (%v)", tiers, err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PRICEADVISOR_WATCH_INTERVAL", "15m")
	t.Setenv("PRICEADVISOR_DATABASE_DRIVER", "postgres")
	t.Setenv("PRICEADVISOR_WATCH_ITEMS", "hades,celeste")

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Watch.Interval != 15*time.Minute {
		t.Fatalf("expected env interval, got %s", cfg.Watch.Interval)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if len(cfg.Watch.Items) != 2 || cfg.Watch.Items[1] != "celeste" {
		t.Fatalf("unexpected watch items %v", cfg.Watch.Items)
	}
}

func TestLoadEngineSection(t *testing.T) {
	path := writeConfig(t, `
engine:
  weights:
    price_position: 0.5
    trend: 0.25
    discount_context: 0.25
  penalties:
    - below: 10
      penalty: 15
      floor: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Weights.PricePosition != 0.5 {
		t.Fatalf("unexpected weights %+v", cfg.Engine.Weights)
	}
	if len(cfg.Engine.Penalties) != 1 || cfg.Engine.Penalties[0].Below != 10 {
		t.Fatalf("unexpected penalties %+v", cfg.Engine.Penalties)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad weights", "engine:\n  weights:\n    trend: 0.9\n", "sum to 1"},
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"bad cron", "watch:\n  cron: \"not a cron\"\n", "watch.cron"},
		{"bad tier", "watch:\n  notify_tiers: [buy, maybe]\n", "unknown tier"},
		{"telegram without token", "alerting:\n  telegram:\n    enabled: true\n", "bot_token"},
		{"classifier threshold", "classifier:\n  enabled: true\n  threshold: 2\n", "classifier.threshold"},
		{"rate limit without burst", "server:\n  rate_limit_rps: 5\n  rate_limit_burst: 0\n", "rate_limit_burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(10); got != 10 {
		t.Fatalf("expected override, got %d", got)
	}
}
