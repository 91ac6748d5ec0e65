package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownIntegrations lists the remote inspection services the daemon can sync with.
var KnownIntegrations = []string{"hxzy", "jtv", "kh", "xuzhoubei"}

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig                 `yaml:"server" json:"server"`
	Database     DatabaseConfig               `yaml:"database" json:"database"`
	Legacy       LegacyConfig                 `yaml:"legacy" json:"legacy"`
	Log          LogConfig                    `yaml:"log" json:"log"`
	Push         PushConfig                   `yaml:"push" json:"-"`
	WorkerPool   WorkerPoolConfig             `yaml:"worker_pool" json:"worker_pool"`
	Timezone     string                       `yaml:"timezone" json:"timezone"`
	Integrations map[string]IntegrationConfig `yaml:"integrations" json:"integrations"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size" json:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" json:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
}

// DatabaseConfig holds the ledger database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" json:"driver"` // sqlite or postgres
	DSN                    string `yaml:"dsn" json:"-"`
	MaxOpenConns           int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
}

// LegacyConfig describes where the inspection station's own databases live.
type LegacyConfig struct {
	RootPath             string `yaml:"root_path" json:"root_path"`
	AppPath              string `yaml:"app_path" json:"app_path"`
	Password             string `yaml:"password" json:"-"`
	Driver               string `yaml:"driver" json:"driver"` // empty selects by file extension
	Charset              string `yaml:"charset" json:"charset"`
	FirebirdHost         string `yaml:"firebird_host" json:"firebird_host"`
	FirebirdUser         string `yaml:"firebird_user" json:"firebird_user"`
	WorkerTimeoutSeconds int    `yaml:"worker_timeout_seconds" json:"worker_timeout_seconds"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// IntegrationConfig holds the live settings of one remote service.
type IntegrationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	IntervalSeconds  int    `yaml:"interval_seconds" json:"interval_seconds"`
	BaseURL          string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UnitCode         string `yaml:"unit_code" json:"unit_code"`
	SignaturePrefix  string `yaml:"signature_prefix" json:"signature_prefix"`
	DeviceNoOverride string `yaml:"device_no_override" json:"device_no_override"`
}

// Interval is the delay between two automatic upload passes.
func (c IntegrationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout bounds every HTTP request sent to the remote service.
func (c IntegrationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkerTimeout bounds one round trip to the legacy reader subprocess.
func (c LegacyConfig) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone, falling back to the local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, using local time", "timezone", c.Timezone, "error", err)
		return time.Local
	}
	return loc
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration from the given path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		applyDefaults(cfg)
		return cfg, nil
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Clone returns a deep copy, so callers can never mutate shared maps.
func (c Config) Clone() Config {
	out := c
	out.Integrations = make(map[string]IntegrationConfig, len(c.Integrations))
	for k, v := range c.Integrations {
		out.Integrations[k] = v
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "axlesync.db"
	}

	if cfg.Legacy.Charset == "" {
		cfg.Legacy.Charset = "gb18030"
	}
	if cfg.Legacy.FirebirdHost == "" {
		cfg.Legacy.FirebirdHost = "localhost"
	}
	if cfg.Legacy.FirebirdUser == "" {
		cfg.Legacy.FirebirdUser = "SYSDBA"
	}
	if cfg.Legacy.WorkerTimeoutSeconds <= 0 {
		cfg.Legacy.WorkerTimeoutSeconds = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "TEXT"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Shanghai"
	}

	if cfg.Integrations == nil {
		cfg.Integrations = make(map[string]IntegrationConfig)
	}
	for _, name := range KnownIntegrations {
		if _, ok := cfg.Integrations[name]; !ok {
			cfg.Integrations[name] = IntegrationConfig{}
		}
	}
	for name, ic := range cfg.Integrations {
		if ic.IntervalSeconds <= 0 {
			ic.IntervalSeconds = 30
		}
		if ic.TimeoutSeconds <= 0 {
			ic.TimeoutSeconds = 30
		}
		ic.BaseURL = strings.TrimRight(ic.BaseURL, "/")
		cfg.Integrations[name] = ic
	}
}
