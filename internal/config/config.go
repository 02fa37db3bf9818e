// Package config loads the service configuration with viper: a YAML file,
// defaults for every key and CALLCENTER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/orchestrator"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/streaming"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/tracing"
)

const (
	envPrefix         = "CALLCENTER"
	defaultConfigPath = "./config/callcenter.yaml"
)

type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LLMConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	llm.Config `mapstructure:",squash"`
}

type MemoryConfig struct {
	WindowMessages  int           `mapstructure:"window_messages"`
	WindowDecisions int           `mapstructure:"window_decisions"`
	ArchiveEnabled  bool          `mapstructure:"archive_enabled"`
	ArchiveTTL      time.Duration `mapstructure:"archive_ttl"`
}

type DatabaseConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	db.Config `mapstructure:",squash"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KnowledgeConfig struct {
	Path        string        `mapstructure:"path"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	SharedCache bool          `mapstructure:"shared_cache"`
}

type StreamingConfig struct {
	streaming.Config `mapstructure:",squash"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// Config is the full service configuration.
type Config struct {
	Service      ServiceConfig       `mapstructure:"service"`
	Logging      LoggingConfig       `mapstructure:"logging"`
	LLM          LLMConfig           `mapstructure:"llm"`
	Agents       agents.Config       `mapstructure:"agents"`
	Memory       MemoryConfig        `mapstructure:"memory"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator"`
	Database     DatabaseConfig      `mapstructure:"database"`
	Redis        RedisConfig         `mapstructure:"redis"`
	Knowledge    KnowledgeConfig     `mapstructure:"knowledge"`
	Streaming    StreamingConfig     `mapstructure:"streaming"`
	Tracing      tracing.Config      `mapstructure:"tracing"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`
	Health       HealthConfig        `mapstructure:"health"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "callcenter-orchestrator")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.http_port", 8081)
	v.SetDefault("service.shutdown_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.endpoint", "/agent/query")
	v.SetDefault("llm.agent_id", "callcenter")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", "10s")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.initial_backoff", "200ms")
	v.SetDefault("llm.max_backoff", "2s")
	v.SetDefault("llm.limits_path", "")

	v.SetDefault("agents.llm_timeout", "15s")
	v.SetDefault("agents.temperature", 0.2)
	v.SetDefault("agents.max_tokens", 600)

	v.SetDefault("memory.window_messages", 10)
	v.SetDefault("memory.window_decisions", 5)
	v.SetDefault("memory.archive_enabled", false)
	v.SetDefault("memory.archive_ttl", "168h")

	v.SetDefault("orchestrator.turn_lock_timeout", "30s")
	v.SetDefault("orchestrator.turn_timeout", "60s")
	v.SetDefault("orchestrator.handoff_message", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "callcenter")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "callcenter")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "callcenter.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.workers", 4)
	v.SetDefault("database.queue_size", 1000)
	v.SetDefault("database.write_timeout", "5s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("knowledge.path", "")
	v.SetDefault("knowledge.cache_size", 512)
	v.SetDefault("knowledge.cache_ttl", "10m")
	v.SetDefault("knowledge.shared_cache", false)

	v.SetDefault("streaming.capacity", 256)
	v.SetDefault("streaming.stream_prefix", "callcenter:events:")
	v.SetDefault("streaming.handoff_stream", "callcenter:handoffs")
	v.SetDefault("streaming.stream_max_len", 1000)
	v.SetDefault("streaming.mirror_timeout", "500ms")
	v.SetDefault("streaming.mirror_events", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "callcenter-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("health.check_interval", "30s")
}

// Loader reads the configuration and watches the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for path. An empty path uses CONFIG_PATH, then
// the default location.
func NewLoader(path string) *Loader {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	l := &Loader{v: v}
	if explicit {
		l.path = path
	} else if _, err := os.Stat(path); err == nil {
		l.path = path
	}
	return l
}

// Path returns the config file in use, or "" when running on defaults.
func (l *Loader) Path() string { return l.path }

// Load reads the file (if any) and decodes the full configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the log level when the config file changes. Other settings
// need a restart.
func (l *Loader) Watch(level zap.AtomicLevel, logger *zap.Logger) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		raw := l.v.GetString("logging.level")
		var next zapcore.Level
		if err := next.UnmarshalText([]byte(raw)); err != nil {
			logger.Warn("Ignoring invalid log level from config change",
				zap.String("file", e.Name),
				zap.String("level", raw))
			return
		}
		if next != level.Level() {
			level.SetLevel(next)
			logger.Info("Log level changed", zap.String("file", e.Name), zap.String("level", next.String()))
		}
	})
	l.v.WatchConfig()
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("service.http_port out of range: %d", c.Service.HTTPPort))
	}
	if c.Database.Enabled && c.Database.Driver != db.DriverPostgres && c.Database.Driver != db.DriverSQLite {
		errs = append(errs, fmt.Errorf("database.driver must be %s or %s", db.DriverPostgres, db.DriverSQLite))
	}
	if c.Memory.ArchiveEnabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("memory.archive_enabled requires redis.enabled"))
	}
	if c.Knowledge.SharedCache && !c.Redis.Enabled {
		errs = append(errs, errors.New("knowledge.shared_cache requires redis.enabled"))
	}
	return errors.Join(errs...)
}
