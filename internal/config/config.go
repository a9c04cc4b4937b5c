// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Device() DeviceConfig
	LLM() LLMConfig
	Storage() StorageConfig
	Cache() CacheConfig
	Budgets() domain.Budgets
	Engine() EngineConfig
	Policy() PolicyConfig

	SetBudgets(domain.Budgets)
	SetEngineWorkerConcurrency(int)
	SetDeviceFixture(path string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DeviceCfg  DeviceConfig   `mapstructure:"device" yaml:"device"`
	LLMCfg     LLMConfig      `mapstructure:"llm" yaml:"llm"`
	StorageCfg StorageConfig  `mapstructure:"storage" yaml:"storage"`
	CacheCfg   CacheConfig    `mapstructure:"cache" yaml:"cache"`
	BudgetsCfg domain.Budgets `mapstructure:"budgets" yaml:"budgets"`
	EngineCfg  EngineConfig   `mapstructure:"engine" yaml:"engine"`
	PolicyCfg  PolicyConfig   `mapstructure:"policy" yaml:"policy"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig    { return c.LoggerCfg }
func (c *Config) Device() DeviceConfig    { return c.DeviceCfg }
func (c *Config) LLM() LLMConfig          { return c.LLMCfg }
func (c *Config) Storage() StorageConfig  { return c.StorageCfg }
func (c *Config) Cache() CacheConfig      { return c.CacheCfg }
func (c *Config) Budgets() domain.Budgets { return c.BudgetsCfg }
func (c *Config) Engine() EngineConfig    { return c.EngineCfg }
func (c *Config) Policy() PolicyConfig    { return c.PolicyCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBudgets(b domain.Budgets)      { c.BudgetsCfg = b }
func (c *Config) SetEngineWorkerConcurrency(w int) { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetDeviceFixture(path string)     { c.DeviceCfg.Fixture = path }

// LoggerConfig defines all settings related to logging.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DeviceConfig selects the device driver and its timeouts.
type DeviceConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Fixture is the YAML app model used by the simulator driver.
	Fixture           string        `mapstructure:"fixture" yaml:"fixture"`
	DeviceID          string        `mapstructure:"device_id" yaml:"device_id"`
	AppID             string        `mapstructure:"app_id" yaml:"app_id"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PerceptionTimeout time.Duration `mapstructure:"perception_timeout" yaml:"perception_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	IdlePoll          time.Duration `mapstructure:"idle_poll" yaml:"idle_poll"`
	LongPressHold     time.Duration `mapstructure:"long_press_hold" yaml:"long_press_hold"`
}

// LLMProvider identifies a decision backend.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderGenAI     LLMProvider = "genai"
	ProviderHeuristic LLMProvider = "heuristic"
)

// LLMConfig configures the decision plane's model access.
type LLMConfig struct {
	Provider      LLMProvider   `mapstructure:"provider" yaml:"provider"`
	FastModel     string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerSecond paces calls to the provider; zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// CostPer1KTokens converts token usage into the ledger's cost figure.
	CostPer1KTokens float64 `mapstructure:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
}

// StorageConfig selects the graph and blob backends.
type StorageConfig struct {
	GraphBackend string `mapstructure:"graph_backend" yaml:"graph_backend"`
	DatabaseURL  string `mapstructure:"database_url" yaml:"database_url"`
	SQLitePath   string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BlobBackend  string `mapstructure:"blob_backend" yaml:"blob_backend"`
	BlobRoot     string `mapstructure:"blob_root" yaml:"blob_root"`
	Compress     bool   `mapstructure:"compress" yaml:"compress"`
}

// CacheConfig sizes the decision cache.
type CacheConfig struct {
	PerScreenTTL  time.Duration `mapstructure:"per_screen_ttl" yaml:"per_screen_ttl"`
	RoutingTTL    time.Duration `mapstructure:"routing_ttl" yaml:"routing_ttl"`
	PerScreenSize int           `mapstructure:"per_screen_size" yaml:"per_screen_size"`
	RoutingSize   int           `mapstructure:"routing_size" yaml:"routing_size"`
}

// EngineConfig holds settings for the concurrent run engine.
type EngineConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	// RunsPerSecond limits how fast new runs start; zero disables the limit.
	RunsPerSecond float64 `mapstructure:"runs_per_second" yaml:"runs_per_second"`
}

// PolicyConfig holds the loop's thresholds.
type PolicyConfig struct {
	MaxRetriesPerError          int           `mapstructure:"max_retries_per_error" yaml:"max_retries_per_error"`
	RetryInitialDelay           time.Duration `mapstructure:"retry_initial_delay" yaml:"retry_initial_delay"`
	NoProgressThreshold         int           `mapstructure:"no_progress_threshold" yaml:"no_progress_threshold"`
	HighRiskConfidence          float64       `mapstructure:"high_risk_confidence" yaml:"high_risk_confidence"`
	ProgressConfidenceThreshold float64       `mapstructure:"progress_confidence_threshold" yaml:"progress_confidence_threshold"`
	PolicyCooldown              int           `mapstructure:"policy_cooldown" yaml:"policy_cooldown"`
	TopK                        int           `mapstructure:"top_k" yaml:"top_k"`
	LastNEvents                 int           `mapstructure:"last_n_events" yaml:"last_n_events"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "screengraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Device --
	v.SetDefault("device.driver", "simulator")
	v.SetDefault("device.action_timeout", "10s")
	v.SetDefault("device.perception_timeout", "30s")
	v.SetDefault("device.idle_timeout", "5s")
	v.SetDefault("device.idle_poll", "250ms")
	v.SetDefault("device.long_press_hold", "800ms")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderHeuristic))
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.cost_per_1k_tokens", 0.0)

	// -- Storage --
	v.SetDefault("storage.graph_backend", "memory")
	v.SetDefault("storage.sqlite_path", "~/.screengraph/graph.db")
	v.SetDefault("storage.blob_backend", "fs")
	v.SetDefault("storage.blob_root", "~/.screengraph/blobs")
	v.SetDefault("storage.compress", true)

	// -- Cache --
	v.SetDefault("cache.per_screen_ttl", "168h")
	v.SetDefault("cache.routing_ttl", "1h")
	v.SetDefault("cache.per_screen_size", 10000)
	v.SetDefault("cache.routing_size", 2000)

	// -- Budgets --
	b := domain.DefaultBudgets()
	v.SetDefault("budgets.max_steps", b.MaxSteps)
	v.SetDefault("budgets.max_time", b.MaxTime.String())
	v.SetDefault("budgets.max_taps", b.MaxTaps)
	v.SetDefault("budgets.outside_app_limit", b.OutsideAppLimit)
	v.SetDefault("budgets.restart_limit", b.RestartLimit)
	v.SetDefault("budgets.max_tokens", b.MaxTokens)
	v.SetDefault("budgets.max_tokens_per_call", b.MaxTokensPerCall)

	// -- Engine --
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.run_timeout", "15m")
	v.SetDefault("engine.runs_per_second", 1.0)

	// -- Policy --
	v.SetDefault("policy.max_retries_per_error", 3)
	v.SetDefault("policy.retry_initial_delay", "100ms")
	v.SetDefault("policy.no_progress_threshold", 10)
	v.SetDefault("policy.high_risk_confidence", 0.8)
	v.SetDefault("policy.progress_confidence_threshold", 0.6)
	v.SetDefault("policy.policy_cooldown", domain.DefaultPolicyCooldown)
	v.SetDefault("policy.top_k", domain.MaxActions)
	v.SetDefault("policy.last_n_events", domain.LastNEvents)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.api_key", "SCREENGRAPH_LLM_API_KEY")
	_ = v.BindEnv("storage.database_url", "SCREENGRAPH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the provider's conventional variable.
	if cfg.LLMCfg.APIKey == "" && cfg.LLMCfg.Provider != ProviderHeuristic {
		cfg.LLMCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	var errs []error
	if c.EngineCfg.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("engine.worker_concurrency must be a positive integer"))
	}
	if err := c.BudgetsCfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("budgets: %w", err))
	}
	switch c.LLMCfg.Provider {
	case ProviderHeuristic:
	case ProviderGemini, ProviderGenAI:
		if c.LLMCfg.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %q (hint: set SCREENGRAPH_LLM_API_KEY)", c.LLMCfg.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLMCfg.Provider))
	}
	switch strings.ToLower(c.StorageCfg.GraphBackend) {
	case "memory", "sqlite":
	case "postgres":
		if c.StorageCfg.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres backend (hint: check SCREENGRAPH_DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.graph_backend %q", c.StorageCfg.GraphBackend))
	}
	if c.DeviceCfg.ActionTimeout <= 0 || c.DeviceCfg.PerceptionTimeout <= 0 || c.DeviceCfg.IdleTimeout <= 0 {
		errs = append(errs, errors.New("device timeouts must be positive"))
	}
	if p := c.PolicyCfg.HighRiskConfidence; p < 0 || p > 1 {
		errs = append(errs, errors.New("policy.high_risk_confidence must be within [0,1]"))
	}
	return errors.Join(errs...)
}
