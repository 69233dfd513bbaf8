package config

import (
	"fmt"
	"strconv"

	"github.com/dradis-net/rdbtunnel/internal/adapters/cli"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
)

// Config holds all application configuration, sourced from environment
// variables and optional flags.
type Config struct {
	// Database backend selection and connection.
	DBBackend  string // "sqlite" or "postgres"
	DBPath     string // sqlite file path
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Network interface and virtual tap.
	NetworkInterface string
	TapIP            string
	TapMask          string

	// Ambient HTTP surface (/metrics, /healthz).
	ListenAddr string
	ListenPort int

	// Feature toggles.
	IDPSEnabled     bool
	FirewallEnabled bool

	Debug bool
}

// defaults seeds every key ports.ConfigSource might omit (nothing set in the
// environment), so Load never has to special-case a missing key.
var defaults = map[string]string{
	"DB_BACKEND":        "sqlite",
	"DB_PATH":           "rdbtunnel.db",
	"DB_HOST":           "localhost",
	"DB_PORT":           "5432",
	"DB_USER":           "rdbtunnel",
	"DB_PASSWORD":       "",
	"DB_NAME":           "rdbtunnel",
	"DB_SSLMODE":        "disable",
	"NETWORK_INTERFACE": "",
	"TAP_IP":            "10.200.0.1",
	"TAP_MASK":          "255.255.255.0",
	"LISTEN_ADDR":       "0.0.0.0",
	"LISTEN_PORT":       "9090",
	"IDPS_ENABLED":      "false",
	"FIREWALL_ENABLED":  "true",
	"DEBUG":             "false",
}

// Load reads configuration through a ports.ConfigSource (ViperConfigSource
// over the process environment by default). Command-line overrides, if any,
// are applied by the caller after Load returns (cmd/rdbtund registers them
// as cobra flags).
func Load() (*Config, error) {
	return LoadFrom(cli.NewViperConfigSource())
}

// LoadFrom populates Config from src, falling back to defaults for any key
// src doesn't report. Exported so tests can substitute a fake ConfigSource.
func LoadFrom(src ports.ConfigSource) (*Config, error) {
	values, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("load config source: %w", err)
	}

	get := func(key string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return defaults[key]
	}
	getInt := func(key string) (int, error) {
		n, err := strconv.Atoi(get(key))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}
	getBool := func(key string) (bool, error) {
		b, err := strconv.ParseBool(get(key))
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	}

	dbPort, err := getInt("DB_PORT")
	if err != nil {
		return nil, err
	}
	listenPort, err := getInt("LISTEN_PORT")
	if err != nil {
		return nil, err
	}
	idpsEnabled, err := getBool("IDPS_ENABLED")
	if err != nil {
		return nil, err
	}
	firewallEnabled, err := getBool("FIREWALL_ENABLED")
	if err != nil {
		return nil, err
	}
	debug, err := getBool("DEBUG")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBBackend:        get("DB_BACKEND"),
		DBPath:           get("DB_PATH"),
		DBHost:           get("DB_HOST"),
		DBPort:           dbPort,
		DBUser:           get("DB_USER"),
		DBPassword:       get("DB_PASSWORD"),
		DBName:           get("DB_NAME"),
		DBSSLMode:        get("DB_SSLMODE"),
		NetworkInterface: get("NETWORK_INTERFACE"),
		TapIP:            get("TAP_IP"),
		TapMask:          get("TAP_MASK"),
		ListenAddr:       get("LISTEN_ADDR"),
		ListenPort:       listenPort,
		IDPSEnabled:      idpsEnabled,
		FirewallEnabled:  firewallEnabled,
		Debug:            debug,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations no backend can serve. Callers that mutate
// a loaded Config (flag overrides) should re-run it before use.
func (c *Config) Validate() error {
	if c.DBBackend != "sqlite" && c.DBBackend != "postgres" {
		return fmt.Errorf("invalid DB_BACKEND %q: must be sqlite or postgres", c.DBBackend)
	}
	return nil
}

// ListenAddress returns the host:port pair the telemetry server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}
