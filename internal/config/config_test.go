package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("BOTWALLET_WALLETS_ROOT", root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store != StoreFile {
		t.Errorf("Store = %q, want %q", cfg.Store, StoreFile)
	}
	if cfg.Confirmations != 1 {
		t.Errorf("Confirmations = %d, want 1", cfg.Confirmations)
	}
	if cfg.ConfirmTimeout != 120*time.Second {
		t.Errorf("ConfirmTimeout = %s, want 120s", cfg.ConfirmTimeout)
	}
	if cfg.RPCTimeout != 30*time.Second {
		t.Errorf("RPCTimeout = %s, want 30s", cfg.RPCTimeout)
	}
	if cfg.AuditDir != filepath.Join(root, "audit") {
		t.Errorf("AuditDir = %q", cfg.AuditDir)
	}
	if cfg.RatePolicy != filepath.Join(root, PolicyFileName) {
		t.Errorf("RatePolicy = %q", cfg.RatePolicy)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BOTWALLET_WALLETS_ROOT", t.TempDir())
	t.Setenv("BOTWALLET_STORE", "sqlite")
	t.Setenv("BOTWALLET_CONFIRMATIONS", "3")
	t.Setenv("BOTWALLET_CONFIRM_TIMEOUT", "45s")
	t.Setenv("BOTWALLET_MASTER_SECRET", "0123456789abcdef")
	t.Setenv("BOTWALLET_RPC_URL", "https://rpc.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store != StoreSQLite || cfg.Confirmations != 3 || cfg.ConfirmTimeout != 45*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RPCURL != "https://rpc.example.org" {
		t.Errorf("RPCURL = %q", cfg.RPCURL)
	}
	secret, err := cfg.RequireMasterSecret()
	if err != nil || string(secret) != "0123456789abcdef" {
		t.Errorf("RequireMasterSecret() = %q, %v", secret, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown store", "BOTWALLET_STORE", "postgres"},
		{"zero confirmations", "BOTWALLET_CONFIRMATIONS", "0"},
		{"short secret", "BOTWALLET_MASTER_SECRET", "short"},
		{"bad duration", "BOTWALLET_CONFIRM_TIMEOUT", "soon"},
		{"zero rpc timeout", "BOTWALLET_RPC_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOTWALLET_WALLETS_ROOT", t.TempDir())
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRequireMasterSecret_Missing(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.RequireMasterSecret(); !errors.Is(err, ErrMasterSecretMissing) {
		t.Errorf("expected ErrMasterSecretMissing, got %v", err)
	}
}

func TestLogConf(t *testing.T) {
	cfg := &Config{LogLevel: "ERROR"}
	c := cfg.LogConf("walletctl")
	if c.Level != "error" || c.ServiceName != "walletctl" {
		t.Errorf("LogConf = %+v", c)
	}
}
