package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ReconcileConfig configures the reconciliation pipeline.
type ReconcileConfig struct {
	BatchSize        int                    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchesPerSecond float64                `yaml:"batches_per_second" mapstructure:"batches_per_second"`
	Retry            resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	// Scheme names the coding scheme used to decompose raw pcodes.
	Scheme string `yaml:"scheme" mapstructure:"scheme"`
	// SchemesFile is an optional YAML file with additional schemes.
	SchemesFile string `yaml:"schemes_file" mapstructure:"schemes_file"`
}

// ScoringConfig configures dataset scoring runs.
type ScoringConfig struct {
	Concurrency   int  `yaml:"concurrency" mapstructure:"concurrency"`
	UseScopeRange bool `yaml:"use_scope_range" mapstructure:"use_scope_range"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings a command mode needs. Mode is "serve" or
// "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Reconcile.BatchSize < 0 {
		errs = append(errs, "reconcile.batch_size must be >= 0")
	}
	if c.Reconcile.BatchesPerSecond < 0 {
		errs = append(errs, "reconcile.batches_per_second must be >= 0")
	}
	if c.Scoring.Concurrency < 0 || c.Scoring.Concurrency > 64 {
		errs = append(errs, "scoring.concurrency must be between 0 and 64")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "cli":
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment. An empty path looks
// for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SEVERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	retry := resilience.DefaultRetryConfig()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "severity.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("reconcile.batch_size", 2000)
	v.SetDefault("reconcile.batches_per_second", 0)
	v.SetDefault("reconcile.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("reconcile.retry.initial_backoff", retry.InitialBackoff)
	v.SetDefault("reconcile.retry.max_backoff", retry.MaxBackoff)
	v.SetDefault("reconcile.retry.multiplier", retry.Multiplier)
	v.SetDefault("reconcile.retry.jitter_fraction", retry.JitterFraction)
	v.SetDefault("reconcile.scheme", "psgc")
	v.SetDefault("reconcile.schemes_file", "")
	v.SetDefault("scoring.concurrency", 4)
	v.SetDefault("scoring.use_scope_range", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)
	return nil
}
