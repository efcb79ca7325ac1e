package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/invigil/internal/env"
	"github.com/loykin/invigil/internal/logger"
	"github.com/loykin/invigil/internal/reminder"
	"github.com/loykin/invigil/internal/timesync"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. INVIGIL_SERVER_LISTEN.
const EnvPrefix = "INVIGIL"

const (
	EngineGin  = "gin"
	EngineEcho = "echo"
)

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles  []string        `toml:"env_files" mapstructure:"env_files"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	TimeSync  TimeSyncConfig  `toml:"time_sync" mapstructure:"time_sync"`
	Session   SessionConfig   `toml:"session" mapstructure:"session"`
	Reminder  ReminderConfig  `toml:"reminder" mapstructure:"reminder"`
	Templates TemplatesConfig `toml:"templates" mapstructure:"templates"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Notify    NotifyConfig    `toml:"notify" mapstructure:"notify"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	Engine   string     `toml:"engine" mapstructure:"engine"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS. CertFile/KeyFile win over Dir; with AutoGenerate a
// self-signed pair is written into Dir when missing.
type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on a separate address. Empty mounts it on the API router.
	Listen string `toml:"listen" mapstructure:"listen"`
}

type TimeSyncConfig struct {
	Timeout        time.Duration     `toml:"timeout" mapstructure:"timeout"`
	ResyncInterval time.Duration     `toml:"resync_interval" mapstructure:"resync_interval"`
	Sources        []timesync.Source `toml:"sources" mapstructure:"sources"`
}

type SessionConfig struct {
	Store        string        `toml:"store" mapstructure:"store"`
	TickInterval time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`
	StaleAfter   time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	// Restore re-attaches to a persisted session on startup.
	Restore bool `toml:"restore" mapstructure:"restore"`
}

type ReminderConfig struct {
	Window time.Duration `toml:"window" mapstructure:"window"`
	Dedup  string        `toml:"dedup" mapstructure:"dedup"`
}

type TemplatesConfig struct {
	Dir     string `toml:"dir" mapstructure:"dir"`
	Builtin bool   `toml:"builtin" mapstructure:"builtin"`
}

type HistoryConfig struct {
	Sinks     []string `toml:"sinks" mapstructure:"sinks"`
	QueueSize int      `toml:"queue_size" mapstructure:"queue_size"`
}

type NotifyConfig struct {
	Log       bool   `toml:"log" mapstructure:"log"`
	Bell      bool   `toml:"bell" mapstructure:"bell"`
	Webhook   string `toml:"webhook" mapstructure:"webhook"`
	QueueSize int    `toml:"queue_size" mapstructure:"queue_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8686")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.engine", EngineGin)

	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.path", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("time_sync.timeout", timesync.DefaultTimeout)
	v.SetDefault("time_sync.resync_interval", 5*time.Minute)

	v.SetDefault("session.store", "invigil.db")
	v.SetDefault("session.tick_interval", time.Second)
	v.SetDefault("session.stale_after", 10*time.Minute)
	v.SetDefault("session.restore", true)

	v.SetDefault("reminder.window", reminder.DefaultWindow)
	v.SetDefault("reminder.dedup", string(reminder.DedupLastEvent))

	v.SetDefault("templates.dir", "")
	v.SetDefault("templates.builtin", true)

	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.queue_size", 256)

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.bell", false)
	v.SetDefault("notify.webhook", "")
	v.SetDefault("notify.queue_size", 64)
}

// Load reads the TOML file at path, applies env_files and INVIGIL_*
// environment overrides, fills defaults and validates. An empty path yields
// the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	vars := env.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// env files are relative to the config file
		base := filepath.Dir(path)
		for _, f := range v.GetStringSlice("env_files") {
			if !filepath.IsAbs(f) {
				f = filepath.Join(base, f)
			}
			if err := vars.LoadFile(f); err != nil {
				return nil, fmt.Errorf("env file %s: %w", f, err)
			}
		}
		if err := vars.Export(); err != nil {
			return nil, fmt.Errorf("export env: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.TimeSync.Sources) == 0 {
		cfg.TimeSync.Sources = timesync.DefaultSources()
	}
	for i := range cfg.TimeSync.Sources {
		if cfg.TimeSync.Sources[i].Timeout <= 0 {
			cfg.TimeSync.Sources[i].Timeout = cfg.TimeSync.Timeout
		}
		cfg.TimeSync.Sources[i].Endpoint = vars.Expand(cfg.TimeSync.Sources[i].Endpoint)
	}
	// DSNs and URLs may reference ${VAR} to keep credentials out of the file.
	cfg.Session.Store = vars.Expand(cfg.Session.Store)
	cfg.Notify.Webhook = vars.Expand(cfg.Notify.Webhook)
	for i := range cfg.History.Sinks {
		cfg.History.Sinks[i] = vars.Expand(cfg.History.Sinks[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Engine {
	case EngineGin, EngineEcho:
	default:
		errs = append(errs, fmt.Errorf("server.engine must be %q or %q, got %q", EngineGin, EngineEcho, c.Server.Engine))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls requires cert_file/key_file or dir"))
		}
	}
	if c.Session.TickInterval <= 0 {
		errs = append(errs, errors.New("session.tick_interval must be positive"))
	}
	if c.Session.StaleAfter <= 0 {
		errs = append(errs, errors.New("session.stale_after must be positive"))
	}
	if strings.TrimSpace(c.Session.Store) == "" {
		errs = append(errs, errors.New("session.store is required"))
	}
	if c.TimeSync.Timeout <= 0 {
		errs = append(errs, errors.New("time_sync.timeout must be positive"))
	}
	if c.TimeSync.ResyncInterval <= 0 {
		errs = append(errs, errors.New("time_sync.resync_interval must be positive"))
	}
	for i, s := range c.TimeSync.Sources {
		if s.Endpoint == "" {
			errs = append(errs, fmt.Errorf("time_sync.sources[%d]: endpoint is required", i))
		}
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("time_sync.sources[%d]: name is required", i))
		}
	}
	if c.Reminder.Window <= 0 {
		errs = append(errs, errors.New("reminder.window must be positive"))
	}
	switch reminder.Dedup(c.Reminder.Dedup) {
	case reminder.DedupLastEvent, reminder.DedupFullLog:
	default:
		errs = append(errs, fmt.Errorf("reminder.dedup must be %q or %q, got %q", reminder.DedupLastEvent, reminder.DedupFullLog, c.Reminder.Dedup))
	}
	if !c.Templates.Builtin && c.Templates.Dir == "" {
		errs = append(errs, errors.New("templates: builtin disabled and no dir configured"))
	}
	return errors.Join(errs...)
}
