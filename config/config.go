// Package config loads the externally supplied configuration surface of the
// pipeline: concurrency and admission limits, stage and report deadlines,
// export ceilings, heartbeat tuning and the language-model backend. Values
// come from an optional YAML file plus EDUINSIGHT_* environment variables;
// nothing here is hardcoded into the components.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Export      ExportConfig      `mapstructure:"export"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// CoordinatorConfig bounds the dispatcher's concurrency and deadlines.
type CoordinatorConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	ReportDeadline    time.Duration `mapstructure:"report_deadline"`
	StageRetries      int           `mapstructure:"stage_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	ResolveRetries    int           `mapstructure:"resolve_retries"`
	ResolveBackoff    time.Duration `mapstructure:"resolve_backoff"`
}

// RegistryConfig tunes agent liveness tracking.
type RegistryConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MissThreshold     int           `mapstructure:"miss_threshold"`
}

// AnalysisConfig tunes the data analysis agent contract.
type AnalysisConfig struct {
	MinRecords int `mapstructure:"min_records"`
}

// ExportConfig bounds the adapter layer's output.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// LLMConfig describes the opaque completion backend. Provider selects the
// adapter ("openai" speaks the OpenAI-compatible API local runtimes expose,
// "anthropic" the Anthropic Messages API, "mock" the in-memory test model).
type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig controls the prometheus listener of the daemon.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from the given file (optional) and environment.
// Environment variables use the EDUINSIGHT_ prefix with underscores, e.g.
// EDUINSIGHT_COORDINATOR_MAX_CONCURRENT_JOBS=32.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EDUINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching file or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly; keep the error path anyway.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")

	v.SetDefault("coordinator.max_concurrent_jobs", 8)
	v.SetDefault("coordinator.queue_depth", 64)
	v.SetDefault("coordinator.stage_timeout", 5*time.Minute)
	v.SetDefault("coordinator.report_deadline", 30*time.Minute)
	v.SetDefault("coordinator.stage_retries", 1)
	v.SetDefault("coordinator.retry_backoff", 2*time.Second)
	v.SetDefault("coordinator.resolve_retries", 3)
	v.SetDefault("coordinator.resolve_backoff", 500*time.Millisecond)

	v.SetDefault("registry.heartbeat_interval", 5*time.Second)
	v.SetDefault("registry.miss_threshold", 3)

	v.SetDefault("analysis.min_records", 10)

	v.SetDefault("export.max_rows", 100000)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "qwen3:4b")
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.addr", ":9109")
}

// Validate checks invariants between related settings.
func (c *Config) Validate() error {
	if c.Coordinator.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("coordinator.max_concurrent_jobs must be > 0")
	}
	if c.Coordinator.QueueDepth < 0 {
		return fmt.Errorf("coordinator.queue_depth must be >= 0")
	}
	if c.Coordinator.StageTimeout <= 0 {
		return fmt.Errorf("coordinator.stage_timeout must be > 0")
	}
	if c.Coordinator.ReportDeadline < c.Coordinator.StageTimeout {
		return fmt.Errorf("coordinator.report_deadline must be >= stage_timeout")
	}
	if c.Registry.HeartbeatInterval <= 0 {
		return fmt.Errorf("registry.heartbeat_interval must be > 0")
	}
	if c.Registry.MissThreshold <= 0 {
		return fmt.Errorf("registry.miss_threshold must be > 0")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be > 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be > 0")
	}
	if c.LLM.Timeout > c.Coordinator.StageTimeout {
		return fmt.Errorf("llm.timeout must not exceed coordinator.stage_timeout")
	}
	return nil
}
