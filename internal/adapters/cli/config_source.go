package cli

import (
	"strings"

	"github.com/spf13/viper"
)

// keys lists the environment variables this tunnel recognizes;
// ViperConfigSource only reports values for these, keeping
// ports.ConfigSource's surface narrow and predictable regardless of what
// else happens to be in the environment.
var keys = []string{
	"DB_BACKEND", "DB_PATH", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD",
	"DB_NAME", "DB_SSLMODE", "NETWORK_INTERFACE", "TAP_IP", "TAP_MASK",
	"LISTEN_ADDR", "LISTEN_PORT", "IDPS_ENABLED", "FIREWALL_ENABLED", "DEBUG",
}

// ViperConfigSource implements ports.ConfigSource over environment
// variables, following the domain stack's viper adoption.
type ViperConfigSource struct {
	v *viper.Viper
}

// NewViperConfigSource constructs a ViperConfigSource bound to the process
// environment.
func NewViperConfigSource() *ViperConfigSource {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return &ViperConfigSource{v: v}
}

// Load returns the current value of every known configuration key, omitting
// keys that are unset.
func (c *ViperConfigSource) Load() (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if c.v.IsSet(k) {
			out[k] = c.v.GetString(k)
		}
	}
	return out, nil
}
