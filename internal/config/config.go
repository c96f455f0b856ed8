// Package config loads the hub's configuration surface from flags, a YAML
// file, and environment variables, using viper's flag/file/env layering.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved hub configuration surface.
type Config struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	AppiumPortStart     int           `mapstructure:"appium_port_start"`
	AppiumPortEnd       int           `mapstructure:"appium_port_end"`
	MaxSessions         int           `mapstructure:"max_sessions"`
	SessionTimeout      time.Duration `mapstructure:"session_timeout"`
	LogDir              string        `mapstructure:"log_dir"`
	LogLevel            string        `mapstructure:"log_level"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	BackendBin          string        `mapstructure:"backend_bin"`
	Debug               bool          `mapstructure:"debug"`
}

// envPrefix namespaces environment-variable overrides, e.g. APIUMHUB_PORT.
const envPrefix = "APIUMHUB"

// BindFlags registers the hub's configuration flags on fs and binds each to
// its viper key via BindPFlag.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("host", "0.0.0.0", "bind address for the gateway")
	fs.Int("port", 4444, "gateway listen port")
	fs.Int("appium-port-start", 4723, "first port in the backend range")
	fs.Int("appium-port-end", 4773, "last port in the backend range")
	fs.Int("max-sessions", 10, "maximum concurrent sessions")
	fs.Duration("session-timeout", 30*time.Minute, "idle session eviction threshold")
	fs.String("log-dir", "logs", "directory for per-session backend log files")
	fs.String("log-level", "info", "hub log verbosity")
	fs.Duration("health-check-interval", 60*time.Second, "health sampling cadence")
	fs.String("backend-bin", "appium", "path to the Appium backend executable")

	// debug is a root-level persistent flag (internal/cli/root.go owns its
	// registration and viper binding), so BindFlags does not register it:
	// serve sees it through the persistent flags cobra merges in from root
	// at parse time, and a local flag of the same name would shadow it.

	bindings := map[string]string{
		"host":                  "host",
		"port":                  "port",
		"appium_port_start":     "appium-port-start",
		"appium_port_end":       "appium-port-end",
		"max_sessions":          "max-sessions",
		"session_timeout":       "session-timeout",
		"log_dir":               "log-dir",
		"log_level":             "log-level",
		"health_check_interval": "health-check-interval",
		"backend_bin":           "backend-bin",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// Load resolves a Config from v's flags/file/env layering. v's config file
// path and name must already be set by the caller (see internal/cli) before
// calling Load if a file is in use.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
