package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
service_name = "propertyalert"

[database]
driver = "sqlite"
dsn = "file::memory:"

[alerts]
interval = "5m"
timezone = "Asia/Makassar"
locale = "en"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.Interval != 5*time.Minute || cfg.Alerts.Timezone != "Asia/Makassar" || cfg.Alerts.Locale != "en" {
		t.Fatalf("file values not applied: %+v", cfg.Alerts)
	}
	if cfg.Alerts.Workers != 5 || cfg.Alerts.PriceDropThreshold != 10 || !cfg.Alerts.HeuristicFallback {
		t.Fatalf("defaults not applied: %+v", cfg.Alerts)
	}
	if cfg.HTTP.Port != 8080 || cfg.Email.Driver != "log" || cfg.Push.TTL != 86400 {
		t.Fatalf("unexpected defaults: http=%d email=%s ttl=%d", cfg.HTTP.Port, cfg.Email.Driver, cfg.Push.TTL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "sqlite"
`)
	t.Setenv("APP_ALERTS_WORKERS", "12")
	t.Setenv("APP_ALERTS_BASE_URL", "https://rumah.example.id")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.Workers != 12 || cfg.Alerts.BaseURL != "https://rumah.example.id" {
		t.Fatalf("env override not applied: %+v", cfg.Alerts)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"redis guard without redis": `
[database]
driver = "sqlite"
[alerts]
ledger_redis_guard = true
`,
		"unknown timezone": `
[database]
driver = "sqlite"
[alerts]
timezone = "Mars/Olympus"
`,
		"smtp without host": `
[database]
driver = "sqlite"
[email]
driver = "smtp"
`,
		"push without vapid keys": `
[database]
driver = "sqlite"
[push]
enabled = true
`,
		"mysql without dsn": `
[database]
driver = "mysql"
`,
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), "config validation failed") {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}
