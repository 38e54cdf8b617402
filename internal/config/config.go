// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Perception PerceptionConfig `mapstructure:"perception" yaml:"perception"`
	Planner    PlannerConfig    `mapstructure:"planner" yaml:"planner"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Learning   LearningConfig   `mapstructure:"learning" yaml:"learning"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser adapter.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleWait   time.Duration `mapstructure:"network_idle_wait" yaml:"network_idle_wait"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// CacheTierConfig bounds a single perception cache tier.
type CacheTierConfig struct {
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
	MaxBytes   int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// PerceptionConfig tunes the layered perception engine.
type PerceptionConfig struct {
	LightningElementCap int             `mapstructure:"lightning_element_cap" yaml:"lightning_element_cap"`
	QuickElementCap     int             `mapstructure:"quick_element_cap" yaml:"quick_element_cap"`
	MaxTextLength       int             `mapstructure:"max_text_length" yaml:"max_text_length"`
	SweepInterval       time.Duration   `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	LightningCache      CacheTierConfig `mapstructure:"lightning_cache" yaml:"lightning_cache"`
	QuickCache          CacheTierConfig `mapstructure:"quick_cache" yaml:"quick_cache"`
	ElementCache        CacheTierConfig `mapstructure:"element_cache" yaml:"element_cache"`
}

// PlannerConfig tunes intent classification and plan synthesis.
type PlannerConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	HistoryWeight       float64 `mapstructure:"history_weight" yaml:"history_weight"`
	MinAttemptsForPrior int     `mapstructure:"min_attempts_for_prior" yaml:"min_attempts_for_prior"`
	UseLLM              bool    `mapstructure:"use_llm" yaml:"use_llm"`
}

// ExecutorConfig tunes step execution.
type ExecutorConfig struct {
	DefaultStepTimeout   time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`
	PlanTimeout          time.Duration `mapstructure:"plan_timeout" yaml:"plan_timeout"`
	RetryBase            time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryCap             time.Duration `mapstructure:"retry_cap" yaml:"retry_cap"`
	MaxRetries           int           `mapstructure:"max_retries" yaml:"max_retries"`
	StandardFreshness    time.Duration `mapstructure:"standard_freshness" yaml:"standard_freshness"`
	QuickFreshness       time.Duration `mapstructure:"quick_freshness" yaml:"quick_freshness"`
	RescoreKeywordWeight float64       `mapstructure:"rescore_keyword_weight" yaml:"rescore_keyword_weight"`
	RescoreRoleWeight    float64       `mapstructure:"rescore_role_weight" yaml:"rescore_role_weight"`
}

// LearningConfig bounds the learning store.
type LearningConfig struct {
	MaxRecords        int           `mapstructure:"max_records" yaml:"max_records"`
	MaxRecordsPerKind int           `mapstructure:"max_records_per_kind" yaml:"max_records_per_kind"`
	LearningRate      float64       `mapstructure:"learning_rate" yaml:"learning_rate"`
	Retention         time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	DumpInterval      time.Duration `mapstructure:"dump_interval" yaml:"dump_interval"`
	SinkPath          string        `mapstructure:"sink_path" yaml:"sink_path"` // empty disables the sqlite sink
}

// LLMProvider names a supported provider backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderNone   LLMProvider = "none"
)

// LLMConfig configures the optional LLM provider.
type LLMConfig struct {
	Provider       LLMProvider   `mapstructure:"provider" yaml:"provider"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	FastModel      string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel  string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
}

// SessionConfig bounds coordinator-owned session state.
type SessionConfig struct {
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit"`
	DefaultDepth string `mapstructure:"default_depth" yaml:"default_depth"`
	BusBuffer    int    `mapstructure:"bus_buffer" yaml:"bus_buffer"`
	MaxSessions  int    `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// SetDefaults initializes default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.network_idle_wait", "500ms")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)

	// -- Perception --
	v.SetDefault("perception.lightning_element_cap", 8)
	v.SetDefault("perception.quick_element_cap", 30)
	v.SetDefault("perception.max_text_length", 200)
	v.SetDefault("perception.sweep_interval", "5s")
	v.SetDefault("perception.lightning_cache.ttl", "500ms")
	v.SetDefault("perception.lightning_cache.max_entries", 100)
	v.SetDefault("perception.lightning_cache.max_bytes", 10*1024*1024)
	v.SetDefault("perception.quick_cache.ttl", "5s")
	v.SetDefault("perception.quick_cache.max_entries", 50)
	v.SetDefault("perception.quick_cache.max_bytes", 20*1024*1024)
	v.SetDefault("perception.element_cache.ttl", "30s")
	v.SetDefault("perception.element_cache.max_entries", 200)
	v.SetDefault("perception.element_cache.max_bytes", 30*1024*1024)

	// -- Planner --
	v.SetDefault("planner.confidence_threshold", 0.4)
	v.SetDefault("planner.history_weight", 0.3)
	v.SetDefault("planner.min_attempts_for_prior", 5)
	v.SetDefault("planner.use_llm", false)

	// -- Executor --
	v.SetDefault("executor.default_step_timeout", "30s")
	v.SetDefault("executor.plan_timeout", "5m")
	v.SetDefault("executor.retry_base", "500ms")
	v.SetDefault("executor.retry_cap", "5s")
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.standard_freshness", "2s")
	v.SetDefault("executor.quick_freshness", "500ms")
	v.SetDefault("executor.rescore_keyword_weight", 0.6)
	v.SetDefault("executor.rescore_role_weight", 0.4)

	// -- Learning --
	v.SetDefault("learning.max_records", 10000)
	v.SetDefault("learning.max_records_per_kind", 2000)
	v.SetDefault("learning.learning_rate", 0.1)
	v.SetDefault("learning.retention", "720h") // 30 days
	v.SetDefault("learning.sweep_interval", "1m")
	v.SetDefault("learning.dump_interval", "5m")
	v.SetDefault("learning.sink_path", "")

	// -- LLM --
	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.requests_per_sec", 1.0)
	v.SetDefault("llm.burst", 2)

	// -- Session --
	v.SetDefault("session.history_limit", 100)
	v.SetDefault("session.default_depth", "standard")
	v.SetDefault("session.bus_buffer", 64)
	v.SetDefault("session.max_sessions", 16)
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewFromViper builds and validates a Config from a viper instance.
func NewFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPath resolves ~ in user-supplied paths.
func ExpandPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("failed to expand path %q: %w", p, err)
	}
	return filepath.Clean(expanded), nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Perception.LightningElementCap <= 0 {
		return fmt.Errorf("perception.lightning_element_cap must be positive")
	}
	if c.Perception.QuickElementCap < c.Perception.LightningElementCap {
		return fmt.Errorf("perception.quick_element_cap must be >= lightning_element_cap")
	}
	if c.Planner.ConfidenceThreshold < 0 || c.Planner.ConfidenceThreshold > 1 {
		return fmt.Errorf("planner.confidence_threshold must be within [0,1]")
	}
	if c.Planner.HistoryWeight < 0 || c.Planner.HistoryWeight > 1 {
		return fmt.Errorf("planner.history_weight must be within [0,1]")
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries cannot be negative")
	}
	if w := c.Executor.RescoreKeywordWeight + c.Executor.RescoreRoleWeight; w <= 0 {
		return fmt.Errorf("executor rescore weights must sum to a positive value")
	}
	if c.Learning.MaxRecords <= 0 {
		return fmt.Errorf("learning.max_records must be positive")
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate > 1 {
		return fmt.Errorf("learning.learning_rate must be within (0,1]")
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session.history_limit must be positive")
	}
	if c.LLM.Provider != ProviderNone && c.LLM.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}
	return nil
}
