// Package config holds the process wide launch defaults. They come from an
// optional TOML file named by LP_CONFIG, overridden by LP_* variables.
package config

import (
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/warriorguo/launchpad/store/postgres"
	"github.com/warriorguo/launchpad/types"
)

const (
	EnvConfig                = "LP_CONFIG"
	EnvLaunchType            = "LP_LAUNCH_TYPE"
	EnvTerminationNoticeSecs = "LP_TERMINATION_NOTICE_SECS"
	EnvLogLevel              = "LP_LOG_LEVEL"
	EnvLogFormat             = "LP_LOG_FORMAT"
	EnvPostgresDSN           = "LP_POSTGRES_DSN"
)

type Config struct {
	// used when Launch is not given a launch type
	LaunchType types.LaunchType `toml:"launch_type" default:"local_mt"`
	/**
	 * default: 10
	 * seconds worker processes get between SIGTERM and SIGKILL.
	 */
	TerminationNoticeSecs int `toml:"termination_notice_secs" default:"10"`
	// panic, fatal, error, warn, info, debug or trace
	LogLevel string `toml:"log_level" default:"info"`
	// text or json
	LogFormat string `toml:"log_format" default:"text"`

	Postgres postgres.Config `toml:"postgres"`
	// set when a [postgres] table or LP_POSTGRES_DSN is given, worker
	// records then go to PostgreSQL.
	PostgresEnabled bool `toml:"-"`
}

func New() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path, when not empty, and applies the environment overrides.
// Once the file is decoded the config is returned along with any error.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, errors.Annotatef(err, "load config %s", path)
		}
		cfg.PostgresEnabled = meta.IsDefined("postgres")
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, errors.Trace(err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLaunchType); ok && strings.TrimSpace(v) != "" {
		c.LaunchType = types.LaunchType(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvTerminationNoticeSecs); ok && strings.TrimSpace(v) != "" {
		secs, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			return errors.BadRequestf("%s: %q is not a number", EnvTerminationNoticeSecs, v)
		}
		c.TerminationNoticeSecs = secs
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogFormat); ok && strings.TrimSpace(v) != "" {
		c.LogFormat = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPostgresDSN); ok && strings.TrimSpace(v) != "" {
		pg, err := postgres.ParseDSN(v)
		if err != nil {
			return errors.Annotatef(err, "%s", EnvPostgresDSN)
		}
		c.Postgres = *pg
		c.PostgresEnabled = true
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := types.ParseLaunchType(string(c.LaunchType)); err != nil {
		return errors.Trace(err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.BadRequestf("invalid log level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.BadRequestf("invalid log format: %s", c.LogFormat)
	}
	if c.PostgresEnabled {
		return errors.Trace(c.Postgres.Validate())
	}
	return nil
}

// PostgresConfig returns the record database, nil when not configured.
func (c *Config) PostgresConfig() *postgres.Config {
	if !c.PostgresEnabled {
		return nil
	}
	pg := c.Postgres
	return &pg
}

var (
	mu         sync.Mutex
	defaultCfg *Config
)

// Default is loaded once per process. A broken configuration is logged and
// replaced by the built-in defaults, except for the launch type: an unknown
// one is kept so that Launch rejects it.
func Default() *Config {
	mu.Lock()
	defer mu.Unlock()

	if defaultCfg == nil {
		cfg, err := Load(os.Getenv(EnvConfig))
		if err != nil {
			log.Warnf("invalid launchpad configuration, using defaults: %v", err)
			fallback := New()
			if cfg != nil {
				fallback.LaunchType = cfg.LaunchType
			}
			cfg = fallback
		}
		defaultCfg = cfg
	}
	return defaultCfg
}

// SetDefault replaces the process wide configuration, nil reloads it on
// the next Default call.
func SetDefault(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	defaultCfg = cfg
}

// ConfigureLogging applies the level and format of cfg to the logrus
// standard logger.
func ConfigureLogging(cfg *Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.BadRequestf("invalid log level: %s", cfg.LogLevel)
	}
	log.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.BadRequestf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}
