package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Marking    MarkingConfig    `yaml:"marking" mapstructure:"marking"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// DedupConfig configures the deduplication engine.
type DedupConfig struct {
	WindowDays         int     `yaml:"window_days" mapstructure:"window_days"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold" mapstructure:"duplicate_threshold"`
	AmbiguousThreshold float64 `yaml:"ambiguous_threshold" mapstructure:"ambiguous_threshold"`
	MaxTextChars       int     `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	MaxSimilar         int     `yaml:"max_similar" mapstructure:"max_similar"`
	MaxCompanions      int     `yaml:"max_companions" mapstructure:"max_companions"`
}

// BatchConfig configures ingestion and lote processing.
type BatchConfig struct {
	ChunkSize           int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	Workers             int  `yaml:"workers" mapstructure:"workers"`
	ContinueOnError     bool `yaml:"continue_on_error" mapstructure:"continue_on_error"`
	SequentialThreshold int  `yaml:"sequential_threshold" mapstructure:"sequential_threshold"`
	Sequential          bool `yaml:"sequential" mapstructure:"sequential"`
}

// SourceConfig configures the publication webservice client.
type SourceConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	User          string  `yaml:"user" mapstructure:"user"`
	Password      string  `yaml:"password" mapstructure:"password"`
	GroupCode     string  `yaml:"group_code" mapstructure:"group_code"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxMarkCodes  int     `yaml:"max_mark_codes" mapstructure:"max_mark_codes"`
	MaxResponseMB int     `yaml:"max_response_mb" mapstructure:"max_response_mb"`
}

// MarkingConfig configures upstream "mark exported" calls.
type MarkingConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	MaxAttempts      int  `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int  `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	TimeoutSecs      int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WorkflowConfig configures the Temporal trigger for novel publications.
type WorkflowConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
	Name      string `yaml:"name" mapstructure:"name"`
}

// MonitoringConfig configures the background health checker run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MarkingFailureLimit  int     `yaml:"marking_failure_limit" mapstructure:"marking_failure_limit"`
	StuckLoteMinutes     int     `yaml:"stuck_lote_minutes" mapstructure:"stuck_lote_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PUBLICACOES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default still need registering so env vars reach Unmarshal.
	for _, key := range []string{"store.database_url", "source.base_url", "source.user", "source.password", "source.group_code", "monitoring.webhook_url"} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "publicacoes.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("dedup.window_days", 30)
	v.SetDefault("dedup.duplicate_threshold", 90.0)
	v.SetDefault("dedup.ambiguous_threshold", 70.0)
	v.SetDefault("dedup.max_text_chars", 5000)
	v.SetDefault("dedup.max_similar", 10)
	v.SetDefault("dedup.max_companions", 200)
	v.SetDefault("batch.chunk_size", 200)
	v.SetDefault("batch.workers", 10)
	v.SetDefault("batch.continue_on_error", true)
	v.SetDefault("batch.sequential_threshold", 20)
	v.SetDefault("batch.sequential", false)
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.rate_limit", 2.0)
	v.SetDefault("source.max_mark_codes", 3000)
	v.SetDefault("source.max_response_mb", 64)
	v.SetDefault("marking.enabled", false)
	v.SetDefault("marking.max_attempts", 3)
	v.SetDefault("marking.initial_backoff_ms", 500)
	v.SetDefault("marking.failure_threshold", 5)
	v.SetDefault("marking.reset_timeout_secs", 30)
	v.SetDefault("marking.timeout_secs", 30)
	v.SetDefault("workflow.enabled", false)
	v.SetDefault("workflow.host_port", "localhost:7233")
	v.SetDefault("workflow.namespace", "default")
	v.SetDefault("workflow.task_queue", "publicacoes")
	v.SetDefault("workflow.name", "ProcessarPublicacao")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.marking_failure_limit", 50)
	v.SetDefault("monitoring.stuck_lote_minutes", 60)

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

// Validate checks the settings a command needs. Every problem is reported,
// not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch mode {
	case "migrate", "lotes", "audit":
		c.validateStore(add)
	case "ingest", "process":
		c.validateStore(add)
		c.validatePipeline(add)
	case "run":
		c.validateStore(add)
		c.validatePipeline(add)
		if c.Source.BaseURL == "" {
			add("source.base_url is required")
		}
		if c.Source.GroupCode == "" {
			add("source.group_code is required")
		}
	case "audit-retry":
		c.validateStore(add)
		if c.Source.BaseURL == "" {
			add("source.base_url is required")
		}
	case "serve":
		c.validateStore(add)
		c.validatePipeline(add)
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			add("monitoring.webhook_url is required when monitoring.enabled")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
}

func (c *Config) validatePipeline(add func(string, ...any)) {
	d := c.Dedup
	if d.WindowDays < 1 {
		add("dedup.window_days must be >= 1")
	}
	if d.AmbiguousThreshold <= 0 || d.AmbiguousThreshold > d.DuplicateThreshold || d.DuplicateThreshold > 100 {
		add("dedup thresholds must satisfy 0 < ambiguous_threshold <= duplicate_threshold <= 100")
	}
	if d.MaxSimilar < 1 {
		add("dedup.max_similar must be >= 1")
	}

	b := c.Batch
	if b.ChunkSize < 1 || b.ChunkSize > 5000 {
		add("batch.chunk_size must be between 1 and 5000")
	}
	if b.Workers < 1 || b.Workers > 100 {
		add("batch.workers must be between 1 and 100")
	}

	if c.Marking.Enabled && c.Source.BaseURL == "" {
		add("source.base_url is required when marking.enabled")
	}
	if c.Source.MaxMarkCodes < 1 || c.Source.MaxMarkCodes > 3000 {
		add("source.max_mark_codes must be between 1 and 3000")
	}
	if c.Source.MaxResponseMB < 1 || c.Source.MaxResponseMB > 1024 {
		add("source.max_response_mb must be between 1 and 1024")
	}

	if c.Workflow.Enabled {
		if c.Workflow.HostPort == "" {
			add("workflow.host_port is required when workflow.enabled")
		}
		if c.Workflow.TaskQueue == "" {
			add("workflow.task_queue is required when workflow.enabled")
		}
	}
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
