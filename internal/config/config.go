// Package config loads driverq configuration from flags, environment
// variables (DRIVERQ_*) and an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/store"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "DRIVERQ"

// Config holds every setting of the client.
type Config struct {
	API          APIConfig
	Store        StoreConfig
	Connectivity ConnectivityConfig
	Sync         SyncConfig
	Server       ServerConfig
	Log          LogConfig
}

// APIConfig describes the remote driver API.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver string
	Path   string
}

// ConnectivityConfig configures reachability probing. An empty ProbeURL
// leaves connectivity to explicit platform signals.
type ConnectivityConfig struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
	// InitialOnline is the state assumed before the first signal.
	InitialOnline bool
}

// SyncConfig configures drain scheduling and hardening.
type SyncConfig struct {
	Interval time.Duration
	Backoff  BackoffConfig
	Breaker  BreakerConfig
}

// BackoffConfig configures per-action retry delays.
type BackoffConfig struct {
	Enabled bool
	Initial time.Duration
	Max     time.Duration
}

// BreakerConfig configures the remote API circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	OpenTimeout      time.Duration
}

// ServerConfig configures the daemon listener.
type ServerConfig struct {
	Addr string
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
}

type option struct {
	key   string
	def   interface{}
	usage string
}

var options = []option{
	{"api.base_url", "http://localhost:8080", "Base URL of the driver API"},
	{"api.timeout", 15 * time.Second, "Per-request timeout when replaying actions"},
	{"store.driver", store.DriverSQLite, "Durable store: sqlite, bolt or memory"},
	{"store.path", "./data", "Data directory of the durable store"},
	{"connectivity.probe_url", "", "URL probed for reachability (empty disables probing)"},
	{"connectivity.interval", 10 * time.Second, "Reachability probe interval"},
	{"connectivity.timeout", 3 * time.Second, "Reachability probe timeout"},
	{"connectivity.initial_online", true, "Connectivity assumed at startup"},
	{"sync.interval", time.Minute, "Periodic drain interval while online (0 disables)"},
	{"sync.backoff.enabled", false, "Delay retries of failed actions exponentially"},
	{"sync.backoff.initial", 5 * time.Second, "First retry delay"},
	{"sync.backoff.max", 10 * time.Minute, "Maximum retry delay"},
	{"sync.breaker.enabled", false, "Stop drains early while the API keeps failing"},
	{"sync.breaker.failure_threshold", 5, "Consecutive failures that open the breaker"},
	{"sync.breaker.open_timeout", 30 * time.Second, "Time the breaker stays open"},
	{"server.addr", "127.0.0.1:8090", "Daemon listen address"},
	{"log.level", "info", "Log level: debug, info, warn or error"},
}

// FlagName converts a config key to its command-line flag name.
func FlagName(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// EnvName converts a config key to its environment variable name.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(FlagName(key))
}

// New returns a viper instance with every default and env binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for _, o := range options {
		v.SetDefault(o.key, o.def)
		v.BindEnv(o.key, EnvName(o.key))
	}
	return v
}

// BindFlags registers a persistent flag for every key on cmd and binds it
// into v. It also adds the --config flag.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	for _, o := range options {
		name := FlagName(o.key)
		usage := fmt.Sprintf("Env: %s\n\t\t%s", EnvName(o.key), o.usage)
		switch def := o.def.(type) {
		case string:
			flags.String(name, def, usage)
		case bool:
			flags.Bool(name, def, usage)
		case int:
			flags.Int(name, def, usage)
		case time.Duration:
			flags.Duration(name, def, usage)
		}
		v.BindPFlag(o.key, flags.Lookup(name))
	}
}

// Load reads configFile (if set) into v and returns the validated config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "read config file", err)
		}
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(v.GetString("api.base_url"), "/"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Store: StoreConfig{
			Driver: v.GetString("store.driver"),
			Path:   v.GetString("store.path"),
		},
		Connectivity: ConnectivityConfig{
			ProbeURL:      v.GetString("connectivity.probe_url"),
			Interval:      v.GetDuration("connectivity.interval"),
			Timeout:       v.GetDuration("connectivity.timeout"),
			InitialOnline: v.GetBool("connectivity.initial_online"),
		},
		Sync: SyncConfig{
			Interval: v.GetDuration("sync.interval"),
			Backoff: BackoffConfig{
				Enabled: v.GetBool("sync.backoff.enabled"),
				Initial: v.GetDuration("sync.backoff.initial"),
				Max:     v.GetDuration("sync.backoff.max"),
			},
			Breaker: BreakerConfig{
				Enabled:          v.GetBool("sync.breaker.enabled"),
				FailureThreshold: v.GetInt("sync.breaker.failure_threshold"),
				OpenTimeout:      v.GetDuration("sync.breaker.open_timeout"),
			},
		},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
		Log:    LogConfig{Level: v.GetString("log.level")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	cfg, err := Load(New(), "")
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Newf(apperrors.ErrConfig, "api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return apperrors.New(apperrors.ErrConfig, "api.timeout must be positive")
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverBolt, store.DriverMemory:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "store.driver must be sqlite, bolt or memory, got %q", c.Store.Driver)
	}
	if c.Store.Driver != store.DriverMemory && c.Store.Path == "" {
		return apperrors.New(apperrors.ErrConfig, "store.path is required")
	}

	if c.Connectivity.ProbeURL != "" {
		if c.Connectivity.Interval <= 0 || c.Connectivity.Timeout <= 0 {
			return apperrors.New(apperrors.ErrConfig, "connectivity.interval and connectivity.timeout must be positive")
		}
	}
	if c.Sync.Interval < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.interval must not be negative")
	}
	if c.Sync.Backoff.Enabled {
		if c.Sync.Backoff.Initial <= 0 || c.Sync.Backoff.Max < c.Sync.Backoff.Initial {
			return apperrors.New(apperrors.ErrConfig, "sync.backoff requires 0 < initial <= max")
		}
	}
	if c.Sync.Breaker.Enabled && c.Sync.Breaker.FailureThreshold <= 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.breaker.failure_threshold must be positive")
	}
	return nil
}
