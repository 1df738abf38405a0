package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Images    ImagesConfig    `yaml:"images" mapstructure:"images"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LookupConfig configures the external item lookup service and the
// enrichment orchestrator that calls it.
type LookupConfig struct {
	// Provider is http, anthropic or none.
	Provider          string `yaml:"provider" mapstructure:"provider"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Key               string `yaml:"key" mapstructure:"key"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	WavePauseMs       int    `yaml:"wave_pause_ms" mapstructure:"wave_pause_ms"`
	MaxDescriptionLen int    `yaml:"max_description_len" mapstructure:"max_description_len"`
	CacheTTLMinutes   int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	CacheMaxEntries   int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	FailureThreshold  int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Timeout returns the per-request timeout.
func (c LookupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// WavePause returns the spacing between enrichment waves.
func (c LookupConfig) WavePause() time.Duration {
	return time.Duration(c.WavePauseMs) * time.Millisecond
}

// CacheTTL returns the lookup cache entry lifetime.
func (c LookupConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// ResetTimeout returns how long the lookup circuit stays open.
func (c LookupConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings for the Claude lookup provider.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ImportConfig configures the import pipeline.
type ImportConfig struct {
	Mode               string `yaml:"mode" mapstructure:"mode"`
	DepartmentID       string `yaml:"department_id" mapstructure:"department_id"`
	CreatedBy          string `yaml:"created_by" mapstructure:"created_by"`
	ReconcileChunkSize int    `yaml:"reconcile_chunk_size" mapstructure:"reconcile_chunk_size"`
	CommitChunkSize    int    `yaml:"commit_chunk_size" mapstructure:"commit_chunk_size"`
	OnUnverified       string `yaml:"on_unverified" mapstructure:"on_unverified"`
	VocabularyFile     string `yaml:"vocabulary_file" mapstructure:"vocabulary_file"`
}

// ImagesConfig configures post-commit image persistence.
type ImagesConfig struct {
	Dir         string  `yaml:"dir" mapstructure:"dir"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxBytes    int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	// RetryAttempts and RetryBackoffMs control retries of a single download
	// within one run.
	RetryAttempts  int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LABINV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("lookup.provider", "none")
	v.SetDefault("lookup.timeout_secs", 30)
	v.SetDefault("lookup.batch_size", 0)
	v.SetDefault("lookup.concurrency", 5)
	v.SetDefault("lookup.wave_pause_ms", 500)
	v.SetDefault("lookup.max_description_len", 500)
	v.SetDefault("lookup.cache_ttl_minutes", 60)
	v.SetDefault("lookup.cache_max_entries", 1000)
	v.SetDefault("lookup.failure_threshold", 5)
	v.SetDefault("lookup.reset_timeout_secs", 60)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("import.mode", "insert")
	v.SetDefault("import.reconcile_chunk_size", 100)
	v.SetDefault("import.commit_chunk_size", 25)
	v.SetDefault("import.on_unverified", "proceed")
	v.SetDefault("images.dir", "./data/images")
	v.SetDefault("images.max_attempts", 3)
	v.SetDefault("images.concurrency", 4)
	v.SetDefault("images.rate_per_sec", 2.0)
	v.SetDefault("images.max_bytes", 10<<20)
	v.SetDefault("images.user_agent", "labinv/1.0")
	v.SetDefault("images.retry_attempts", 2)
	v.SetDefault("images.retry_backoff_ms", 1000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by mode: import, images, migrate or
// serve. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "import", "images", "migrate", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url must name the sqlite file")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	if mode == "import" || mode == "serve" {
		switch c.Lookup.Provider {
		case "none":
		case "http":
			if c.Lookup.BaseURL == "" {
				errs = append(errs, "lookup.base_url is required for the http provider")
			}
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required for the anthropic provider")
			}
		default:
			errs = append(errs, "lookup.provider must be http, anthropic or none")
		}
		if c.Lookup.Concurrency < 1 || c.Lookup.Concurrency > 50 {
			errs = append(errs, "lookup.concurrency must be between 1 and 50")
		}
		switch strings.ToLower(c.Import.Mode) {
		case "insert", "upsert":
		default:
			errs = append(errs, "import.mode must be insert or upsert")
		}
		switch strings.ToLower(c.Import.OnUnverified) {
		case "", "proceed", "fail":
		default:
			errs = append(errs, "import.on_unverified must be proceed or fail")
		}
		if c.Import.DepartmentID == "" {
			errs = append(errs, "import.department_id is required")
		}
	}

	if mode == "import" || mode == "images" || mode == "serve" {
		if c.Images.Dir == "" {
			errs = append(errs, "images.dir is required")
		}
		if c.Images.MaxAttempts < 1 {
			errs = append(errs, "images.max_attempts must be > 0")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
