package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: repricer\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.CronSpec != "0 0 6 * * *" {
		t.Fatalf("unexpected default cron spec %q", cfg.Scheduler.CronSpec)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Fatalf("unexpected default workers %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.StaleAfter != 6*time.Hour {
		t.Fatalf("unexpected default stale_after %s", cfg.Scheduler.StaleAfter)
	}
	if cfg.Resolver.MinCandidates != 5 {
		t.Fatalf("unexpected default min_candidates %d", cfg.Resolver.MinCandidates)
	}
	if cfg.Resolver.OutlierUpper != 3.0 || cfg.Resolver.OutlierLower != 0.3 {
		t.Fatalf("unexpected default outlier bounds %v/%v", cfg.Resolver.OutlierUpper, cfg.Resolver.OutlierLower)
	}
	if cfg.Retention.AttemptMaxAge != 2160*time.Hour {
		t.Fatalf("unexpected default attempt_max_age %s", cfg.Retention.AttemptMaxAge)
	}
	if !cfg.Resolver.RunBeforeReduce {
		t.Fatal("analysis should run before reduction by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  cron_spec: "0 30 4 * * *"
  workers: 8
  stale_after: 2h
marketplace:
  base_url: https://api.example.com
  seller_id: my-shop
  rate_per_second: 0.5
  auth:
    scopes: "scope-a,scope-b"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.Workers != 8 || cfg.Scheduler.StaleAfter != 2*time.Hour {
		t.Fatalf("overrides not applied: %+v", cfg.Scheduler)
	}
	if cfg.Marketplace.SellerID != "my-shop" {
		t.Fatalf("unexpected seller id %q", cfg.Marketplace.SellerID)
	}
	if len(cfg.Marketplace.Auth.Scopes) != 2 || cfg.Marketplace.Auth.Scopes[1] != "scope-b" {
		t.Fatalf("scope list not decoded: %v", cfg.Marketplace.Auth.Scopes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero workers", "scheduler:\n  workers: 0\n"},
		{"outlier upper too low", "resolver:\n  outlier_upper: 0.9\n"},
		{"outlier lower out of range", "resolver:\n  outlier_lower: 1.5\n"},
		{"zero rate", "marketplace:\n  rate_per_second: 0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
