package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsApplyWithoutEnv(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBBackend != "sqlite" {
		t.Errorf("DBBackend = %q, want sqlite", cfg.DBBackend)
	}
	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort = %d, want 9090", cfg.ListenPort)
	}
	if !cfg.FirewallEnabled {
		t.Error("FirewallEnabled should default true")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_BACKEND", "postgres")
	os.Setenv("NETWORK_INTERFACE", "eth0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBBackend != "postgres" {
		t.Errorf("DBBackend = %q, want postgres", cfg.DBBackend)
	}
	if cfg.NetworkInterface != "eth0" {
		t.Errorf("NetworkInterface = %q, want eth0", cfg.NetworkInterface)
	}
}

func TestLoad_InvalidBackendRejected(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_BACKEND", "mysql")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid DB_BACKEND")
	}
}

func TestListenAddress(t *testing.T) {
	cfg := &Config{ListenAddr: "127.0.0.1", ListenPort: 9090}
	if got := cfg.ListenAddress(); got != "127.0.0.1:9090" {
		t.Errorf("ListenAddress() = %q", got)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DB_BACKEND", "DB_PATH", "DB_HOST", "DB_PORT", "DB_USER",
		"DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "NETWORK_INTERFACE", "TAP_IP", "TAP_MASK",
		"LISTEN_ADDR", "LISTEN_PORT", "IDPS_ENABLED", "FIREWALL_ENABLED", "DEBUG"} {
		os.Unsetenv(k)
	}
}
