package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(env(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8081" || cfg.StoreTimeout != 10*time.Second || cfg.SessionIdleTTL != 30*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected no database by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beacongraph.yaml")
	body := `http_addr: ":9001"
store_timeout: 3s
oui_file: /var/lib/beacongraph/oui.txt
colors:
  nodes:
    WPA2: "#123456"
  edges:
    Probes: "#abcdef"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(env(map[string]string{
		"CONFIG_FILE":    path,
		"HTTP_ADDR":      ":7000",
		"INGEST_TIMEOUT": "45s",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("expected env to win, got %s", cfg.HTTPAddr)
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Fatalf("expected file duration, got %s", cfg.StoreTimeout)
	}
	if cfg.IngestTimeout != 45*time.Second {
		t.Fatalf("expected env duration, got %s", cfg.IngestTimeout)
	}
	if cfg.OUIFile != "/var/lib/beacongraph/oui.txt" {
		t.Fatalf("unexpected oui file %s", cfg.OUIFile)
	}
	if cfg.Colors.Nodes["WPA2"] != "#123456" || cfg.Colors.Edges["Probes"] != "#abcdef" {
		t.Fatalf("expected colour overrides, got %+v", cfg.Colors)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad duration", env: map[string]string{"STORE_TIMEOUT": "soon"}, want: "STORE_TIMEOUT"},
		{name: "non-positive", env: map[string]string{"SESSION_IDLE_TTL": "0s"}, want: "session_idle_ttl"},
		{name: "missing file", env: map[string]string{"CONFIG_FILE": "/nonexistent/beacongraph.yaml"}, want: "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(env(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
