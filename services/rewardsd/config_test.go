package rewardsd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
ledger:
  endpoint: "http://127.0.0.1:7090"
  treasury: "treasury"
  auth_token: "secret"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7084" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Ledger.Timeout.Duration != 10*time.Second {
		t.Fatalf("unexpected ledger timeout %s", cfg.Ledger.Timeout.Duration)
	}
	if cfg.Events.QueueCapacity != 1024 || cfg.Events.Topic != "viewrewards.audit" {
		t.Fatalf("unexpected event defaults %+v", cfg.Events)
	}
	if cfg.Auth.AdminScope != "rewards.admin" {
		t.Fatalf("unexpected admin scope %q", cfg.Auth.AdminScope)
	}
}

func TestLoadConfigRequiresLedger(t *testing.T) {
	path := writeConfig(t, `
listen: ":7084"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing ledger endpoint")
	}
}

func TestLoadConfigSecretFromEnv(t *testing.T) {
	t.Setenv("TEST_LEDGER_TOKEN", "from-env")
	path := writeConfig(t, `
ledger:
  endpoint: "http://127.0.0.1:7090"
  treasury: "treasury"
  auth_token_env: "TEST_LEDGER_TOKEN"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.AuthToken != "from-env" {
		t.Fatalf("unexpected token %q", cfg.Ledger.AuthToken)
	}
}

func TestLoadConfigAuthRequiresSecret(t *testing.T) {
	path := writeConfig(t, `
ledger:
  endpoint: "http://127.0.0.1:7090"
  treasury: "treasury"
auth:
  enabled: true
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for auth without secret")
	}
}
