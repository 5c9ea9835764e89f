package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. PERSONASIM_LLM_PROVIDERS_OPENAI_API_KEY.
const EnvPrefix = "PERSONASIM"

// Options tune where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit config file path. When empty, config.yaml is
	// searched for in the working directory and /etc/personasim.
	ConfigFile string

	// EnvFile is a dotenv file loaded before the environment is read.
	// Missing files are ignored.
	EnvFile string
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithOptions(Options{EnvFile: ".env"})
}

// LoadWithOptions is Load with explicit file locations.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(opts.EnvFile); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/personasim")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || opts.ConfigFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := cfg.LLM.Selected()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if provider.APIKey == "" {
		return fmt.Errorf("invalid configuration: llm provider %q has no api_key", cfg.LLM.Provider)
	}
	if cfg.Task.RetryMaxDelay < cfg.Task.RetryBaseDelay {
		return fmt.Errorf("invalid configuration: task.retry_max_delay must not be below task.retry_base_delay")
	}
	// A redelivered persona task must find the crashed holder's marker expired.
	if cfg.Task.MarkerLease >= cfg.Task.VisibilityTimeout {
		return fmt.Errorf("invalid configuration: task.marker_lease must be shorter than task.visibility_timeout")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)

	v.SetDefault("llm.provider", "openai")
	for name, p := range defaultProviders {
		prefix := "llm.providers." + name + "."
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"model", p.Model)
		v.SetDefault(prefix+"base_retry_delay", p.BaseRetryDelay)
	}
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_multiplier", 2.0)
	v.SetDefault("llm.max_backoff", 8*time.Second)
	v.SetDefault("llm.request_timeout", 30*time.Second)
	v.SetDefault("llm.max_response_bytes", 256*1024)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.batch_strategy", "parallel")
	v.SetDefault("llm.batch_concurrency", 4)
	v.SetDefault("llm.default_language", "en")
	v.SetDefault("llm.rate_limit_per_second", 5.0)
	v.SetDefault("llm.rate_limit_burst", 5)
	v.SetDefault("llm.breaker_failure_threshold", 5)
	v.SetDefault("llm.breaker_open_timeout", 30*time.Second)

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.poll_interval", time.Second)
	v.SetDefault("task.claim_batch", 8)
	v.SetDefault("task.visibility_timeout", 5*time.Minute)
	v.SetDefault("task.max_attempts", 5)
	v.SetDefault("task.retry_base_delay", 2*time.Second)
	v.SetDefault("task.retry_max_delay", 2*time.Minute)
	v.SetDefault("task.marker_lease", 4*time.Minute)
	v.SetDefault("task.dead_letter_marks_failed", true)
	v.SetDefault("task.not_ready_delay", 10*time.Second)
	v.SetDefault("task.not_ready_max_wait", 30*time.Minute)

	v.SetDefault("completion.lock_timeout", 10*time.Second)
	v.SetDefault("completion.sweep_interval", time.Minute)
	v.SetDefault("completion.sweep_min_age", 2*time.Minute)
	v.SetDefault("completion.sweep_batch", 50)

	v.SetDefault("cache.path", "data/cache")
	v.SetDefault("cache.in_memory", false)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("telemetry.trace_stdout", false)
}

// defaultProviders lists the backends known out of the box. All but gemini
// speak the OpenAI chat completions protocol.
var defaultProviders = map[string]ProviderConfig{
	"openai": {
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		BaseRetryDelay: 500 * time.Millisecond,
	},
	"openrouter": {
		BaseURL:        "https://openrouter.ai/api/v1",
		Model:          "openai/gpt-4o-mini",
		BaseRetryDelay: time.Second,
	},
	"groq": {
		BaseURL:        "https://api.groq.com/openai/v1",
		Model:          "llama-3.1-8b-instant",
		BaseRetryDelay: 2 * time.Second,
	},
	"gemini": {
		Model:          "gemini-2.0-flash",
		BaseRetryDelay: time.Second,
	},
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
