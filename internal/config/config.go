package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"       validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm"        validate:"required"`
	Task       TaskConfig       `mapstructure:"task"       validate:"required"`
	Completion CompletionConfig `mapstructure:"completion" validate:"required"`
	Cache      CacheConfig      `mapstructure:"cache"      validate:"required"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig contains all database-related configuration settings.
// The memory driver keeps every record in process and is meant for local
// runs and tests.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres memory"`
	URL             string        `mapstructure:"url"               validate:"required_if=Driver postgres"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"     validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// ProviderConfig describes one LLM backend.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"         validate:"omitempty,url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"            validate:"required"`
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// Provider names the entry of Providers that serves all calls.
	Provider  string                    `mapstructure:"provider"  validate:"required"`
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"required,dive"`

	MaxRetries        int           `mapstructure:"max_retries"        validate:"gte=0,lte=10"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"        validate:"gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"    validate:"gt=0"`
	MaxResponseBytes  int           `mapstructure:"max_response_bytes" validate:"gt=0"`
	Temperature       float32       `mapstructure:"temperature"        validate:"gte=0,lte=2"`

	// BatchStrategy selects how persona batches are produced:
	// "parallel" issues one anchored call per persona, "array" asks for all
	// personas in a single response.
	BatchStrategy    string `mapstructure:"batch_strategy"     validate:"required,oneof=parallel array"`
	BatchConcurrency int    `mapstructure:"batch_concurrency"  validate:"gte=1"`
	DefaultLanguage  string `mapstructure:"default_language"   validate:"required,len=2"`

	RateLimitPerSecond      float64       `mapstructure:"rate_limit_per_second"     validate:"gte=0"`
	RateLimitBurst          int           `mapstructure:"rate_limit_burst"          validate:"gte=1"`
	BreakerFailureThreshold uint32        `mapstructure:"breaker_failure_threshold" validate:"gte=1"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout"      validate:"gt=0"`
}

// Selected returns the configuration of the active provider.
func (c LLMConfig) Selected() (ProviderConfig, error) {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("llm provider %q is not configured", c.Provider)
	}
	return p, nil
}

// TaskConfig controls the background task runner.
type TaskConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"       validate:"gte=1"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      validate:"gt=0"`
	ClaimBatch        int           `mapstructure:"claim_batch"        validate:"gte=1"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts"       validate:"gte=1"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"   validate:"gt=0"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"    validate:"gt=0"`

	// MarkerLease bounds how long a persona generation marker is honoured
	// before another worker may take it over.
	MarkerLease time.Duration `mapstructure:"marker_lease" validate:"gt=0"`

	// DeadLetterMarksFailed flips a persona to FAILED once its generation
	// task is dead-lettered.
	DeadLetterMarksFailed bool `mapstructure:"dead_letter_marks_failed"`

	// NotReadyDelay and NotReadyMaxWait control feedback tasks whose
	// persona is still generating: they are put back every NotReadyDelay
	// without using an attempt until NotReadyMaxWait after submission.
	NotReadyDelay   time.Duration `mapstructure:"not_ready_delay"    validate:"gt=0"`
	NotReadyMaxWait time.Duration `mapstructure:"not_ready_max_wait" validate:"gt=0"`
}

// CompletionConfig controls session completion.
type CompletionConfig struct {
	LockTimeout   time.Duration `mapstructure:"lock_timeout"   validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SweepMinAge   time.Duration `mapstructure:"sweep_min_age"  validate:"gte=0"`
	SweepBatch    int           `mapstructure:"sweep_batch"    validate:"gte=1"`
}

// CacheConfig controls the persona detail cache.
type CacheConfig struct {
	Path     string        `mapstructure:"path"      validate:"required_if=InMemory false"`
	InMemory bool          `mapstructure:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl"       validate:"gt=0"`
}

// TelemetryConfig controls tracing output.
type TelemetryConfig struct {
	TraceStdout bool `mapstructure:"trace_stdout"`
}
