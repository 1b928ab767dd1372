//file: config/config.go

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Bus modes
const (
	BusModeMemory    = "memory"
	BusModeCore      = "core"
	BusModeJetStream = "jetstream"
)

// EnvPrefix is the prefix for environment overrides, e.g. FILTER_ROUTER_BUS_MODE
const EnvPrefix = "FILTER_ROUTER"

type Config struct {
	NATS    NATSConfig    `json:"nats" yaml:"nats" mapstructure:"nats"`
	Bus     BusConfig     `json:"bus" yaml:"bus" mapstructure:"bus"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" mapstructure:"cache"`
	Logging LogConfig     `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Routes  []RouteConfig `json:"routes" yaml:"routes" mapstructure:"routes"`
}

type NATSConfig struct {
	URLs     []string `json:"urls" yaml:"urls" mapstructure:"urls"`
	Name     string   `json:"name" yaml:"name" mapstructure:"name"`
	Username string   `json:"username" yaml:"username" mapstructure:"username"`
	Password string   `json:"password" yaml:"password" mapstructure:"password"`
	Token    string   `json:"token" yaml:"token" mapstructure:"token"`

	NKeySeed  string `json:"nkeySeed" yaml:"nkeySeed" mapstructure:"nkeySeed"`    // NKey seed (SU...) or path to a seed file
	CredsFile string `json:"credsFile" yaml:"credsFile" mapstructure:"credsFile"` // Path to .creds file

	TLS        TLSConfig        `json:"tls" yaml:"tls" mapstructure:"tls"`
	Connection ConnectionConfig `json:"connection" yaml:"connection" mapstructure:"connection"`
}

type TLSConfig struct {
	Enable   bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	CertFile string `json:"certFile" yaml:"certFile" mapstructure:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile" mapstructure:"keyFile"`
	CAFile   string `json:"caFile" yaml:"caFile" mapstructure:"caFile"`
	Insecure bool   `json:"insecure" yaml:"insecure" mapstructure:"insecure"` // Skip certificate verification
}

type ConnectionConfig struct {
	MaxReconnects    int           `json:"maxReconnects" yaml:"maxReconnects" mapstructure:"maxReconnects"`
	ReconnectWait    time.Duration `json:"reconnectWait" yaml:"reconnectWait" mapstructure:"reconnectWait"`
	ReconnectBufSize int           `json:"reconnectBufSize" yaml:"reconnectBufSize" mapstructure:"reconnectBufSize"`
}

// BusConfig selects and tunes the upstream transport
type BusConfig struct {
	Mode    string        `json:"mode" yaml:"mode" mapstructure:"mode"`       // memory, core or jetstream
	Subject string        `json:"subject" yaml:"subject" mapstructure:"subject"` // subject carrying all topics
	Stream  string        `json:"stream" yaml:"stream" mapstructure:"stream"`    // jetstream mode only
	Publish PublishConfig `json:"publish" yaml:"publish" mapstructure:"publish"`
}

type PublishConfig struct {
	MaxRetries     int           `json:"maxRetries" yaml:"maxRetries" mapstructure:"maxRetries"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay" yaml:"retryBaseDelay" mapstructure:"retryBaseDelay"`
	AckTimeout     time.Duration `json:"ackTimeout" yaml:"ackTimeout" mapstructure:"ackTimeout"`
}

// CacheConfig tunes the compiled filter cache
type CacheConfig struct {
	TTL           time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"` // sliding idle expiry
	MaxEntries    int           `json:"maxEntries" yaml:"maxEntries" mapstructure:"maxEntries"`
	SweepSchedule string        `json:"sweepSchedule" yaml:"sweepSchedule" mapstructure:"sweepSchedule"` // cron spec, e.g. "@every 1m"
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`                // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath" mapstructure:"outputPath"` // file path or "stdout"
	Encoding   string `json:"encoding" yaml:"encoding" mapstructure:"encoding"`       // json or console
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Address        string `json:"address" yaml:"address" mapstructure:"address"`
	Path           string `json:"path" yaml:"path" mapstructure:"path"`
	UpdateInterval string `json:"updateInterval" yaml:"updateInterval" mapstructure:"updateInterval"` // Duration string
}

// RouteConfig is a standing subscription of the router service.
// Matching messages are forwarded to Subject, or only logged when Subject is empty.
type RouteConfig struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Topic   string `json:"topic" yaml:"topic" mapstructure:"topic"`
	Filter  string `json:"filter" yaml:"filter" mapstructure:"filter"`
	Subject string `json:"subject" yaml:"subject" mapstructure:"subject"`
}

// Load reads the configuration file (YAML or JSON, by extension), applies
// FILTER_ROUTER_* environment overrides, fills defaults and validates.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// bindEnvKeys registers the scalar keys so AutomaticEnv sees them even when
// the config file does not mention them.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"nats.urls", "nats.name", "nats.username", "nats.password", "nats.token",
		"nats.nkeySeed", "nats.credsFile",
		"bus.mode", "bus.subject", "bus.stream",
		"cache.ttl", "cache.maxEntries", "cache.sweepSchedule",
		"logging.level", "logging.encoding", "logging.outputPath",
		"metrics.enabled", "metrics.address", "metrics.path", "metrics.updateInterval",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.OutputPath == "" {
		cfg.Logging.OutputPath = "stdout"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}

	// Metrics defaults only matter when the server is on
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			cfg.Metrics.Address = ":2112"
		}
		if cfg.Metrics.Path == "" {
			cfg.Metrics.Path = "/metrics"
		}
		if cfg.Metrics.UpdateInterval == "" {
			cfg.Metrics.UpdateInterval = "15s"
		}
	}

	// NATS defaults
	if len(cfg.NATS.URLs) == 0 {
		cfg.NATS.URLs = []string{"nats://localhost:4222"}
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "filter-router"
	}
	if cfg.NATS.Connection.MaxReconnects == 0 {
		cfg.NATS.Connection.MaxReconnects = -1 // Unlimited
	}
	if cfg.NATS.Connection.ReconnectWait == 0 {
		cfg.NATS.Connection.ReconnectWait = 50 * time.Millisecond
	}
	if cfg.NATS.Connection.ReconnectBufSize == 0 {
		cfg.NATS.Connection.ReconnectBufSize = 8 * 1024 * 1024 // 8MB
	}

	// Bus defaults
	if cfg.Bus.Mode == "" {
		cfg.Bus.Mode = BusModeCore
	}
	if cfg.Bus.Subject == "" {
		cfg.Bus.Subject = "filter-router.messages"
	}
	if cfg.Bus.Stream == "" {
		cfg.Bus.Stream = "FILTER_ROUTER"
	}
	if cfg.Bus.Publish.MaxRetries == 0 {
		cfg.Bus.Publish.MaxRetries = 3
	}
	if cfg.Bus.Publish.RetryBaseDelay == 0 {
		cfg.Bus.Publish.RetryBaseDelay = 50 * time.Millisecond
	}
	if cfg.Bus.Publish.AckTimeout == 0 {
		cfg.Bus.Publish.AckTimeout = 5 * time.Second
	}

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 2 * time.Hour
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.SweepSchedule == "" {
		cfg.Cache.SweepSchedule = "@every 1m"
	}
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	switch cfg.Bus.Mode {
	case BusModeMemory, BusModeCore, BusModeJetStream:
	default:
		return fmt.Errorf("invalid bus mode: %s", cfg.Bus.Mode)
	}

	if cfg.Bus.Mode != BusModeMemory {
		if err := validateNATS(&cfg.NATS); err != nil {
			return err
		}
		if strings.ContainsAny(cfg.Bus.Subject, "*> ") {
			return fmt.Errorf("bus subject must be a literal subject: %s", cfg.Bus.Subject)
		}
	}

	if cfg.Bus.Publish.MaxRetries < 1 {
		return fmt.Errorf("publish max retries must be greater than 0")
	}

	// Validate cache config
	if cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries cannot be negative")
	}
	if _, err := cron.ParseStandard(cfg.Cache.SweepSchedule); err != nil {
		return fmt.Errorf("invalid cache sweep schedule %q: %w", cfg.Cache.SweepSchedule, err)
	}

	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	// Validate metrics config
	if cfg.Metrics.Enabled {
		if _, err := time.ParseDuration(cfg.Metrics.UpdateInterval); err != nil {
			return fmt.Errorf("invalid metrics update interval: %w", err)
		}
	}

	return validateRoutes(cfg)
}

func validateNATS(cfg *NATSConfig) error {
	if len(cfg.URLs) == 0 {
		return fmt.Errorf("at least one NATS server URL is required")
	}

	// Authentication options are mutually exclusive
	authCount := 0
	if cfg.Username != "" {
		authCount++
	}
	if cfg.Token != "" {
		authCount++
	}
	if cfg.NKeySeed != "" {
		authCount++
	}
	if cfg.CredsFile != "" {
		authCount++
	}
	if authCount > 1 {
		return fmt.Errorf("only one NATS authentication method should be specified")
	}

	if cfg.CredsFile != "" {
		if _, err := os.Stat(cfg.CredsFile); os.IsNotExist(err) {
			return fmt.Errorf("NATS creds file does not exist: %s", cfg.CredsFile)
		}
	}

	if cfg.TLS.Enable {
		if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
			return fmt.Errorf("NATS TLS requires both certFile and keyFile to be specified together")
		}
		for _, file := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile} {
			if file == "" {
				continue
			}
			if _, err := os.Stat(file); os.IsNotExist(err) {
				return fmt.Errorf("NATS TLS file does not exist: %s", file)
			}
		}
	}

	return nil
}

func validateRoutes(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Routes))
	for i, route := range cfg.Routes {
		if route.Name == "" {
			return fmt.Errorf("route %d: name is required", i)
		}
		if seen[route.Name] {
			return fmt.Errorf("route %s: duplicate name", route.Name)
		}
		seen[route.Name] = true

		if route.Topic == "" {
			return fmt.Errorf("route %s: topic is required", route.Name)
		}
		if route.Subject != "" && cfg.Bus.Mode == BusModeMemory {
			return fmt.Errorf("route %s: forwarding to a subject requires a NATS bus mode", route.Name)
		}
	}
	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(busMode, logLevel, metricsAddr, metricsPath string, metricsInterval time.Duration) {
	if busMode != "" {
		c.Bus.Mode = busMode
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = metricsAddr
	}
	if metricsPath != "" {
		c.Metrics.Path = metricsPath
	}
	if metricsInterval > 0 {
		c.Metrics.UpdateInterval = metricsInterval.String()
	}
}

// Validate re-runs validation, e.g. after ApplyOverrides
func (c *Config) Validate() error {
	setDefaults(c)
	return validateConfig(c)
}
