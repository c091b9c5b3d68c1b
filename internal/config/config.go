package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the filegen server.
type Config struct {
	Server     ServerConfig
	Jobs       JobsConfig
	RowGen     RowGenConfig
	Translator TranslatorConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	RateLimitRPS int
}

type JobsConfig struct {
	OutputRoot    string
	StoreDir      string
	MaxConcurrent int
	RetentionDays int
	SyncRowLimit  int
	SweepInterval time.Duration
	StageDelay    time.Duration
	WarmRestart   bool
}

type RowGenConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Fallback string
}

type TranslatorConfig struct {
	BaseURL string
	Timeout time.Duration
	Stub    bool
}

// Fallback modes for the row-generation capability.
const (
	// FallbackBuiltin selects the in-process row generator as the fallback path.
	FallbackBuiltin = "builtin"
	// FallbackNone disables the fallback path entirely.
	FallbackNone = "none"
)

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	env := envString("FILEGEN_ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:         envInt("FILEGEN_PORT", 8080),
			Env:          env,
			RateLimitRPS: envInt("FILEGEN_RATE_LIMIT_RPS", 10),
		},
		Jobs: JobsConfig{
			OutputRoot:    os.Getenv("FILEGEN_OUTPUT_ROOT"),
			StoreDir:      os.Getenv("FILEGEN_STORE_DIR"),
			MaxConcurrent: envInt("FILEGEN_MAX_CONCURRENT_JOBS", 2),
			RetentionDays: envInt("FILEGEN_JOB_RETENTION_DAYS", 7),
			SyncRowLimit:  envInt("FILEGEN_SYNC_ROW_LIMIT", 25),
			SweepInterval: envDuration("FILEGEN_SWEEP_INTERVAL", 60*time.Second),
			StageDelay:    envDuration("FILEGEN_STAGE_DELAY", defaultStageDelay(env)),
			WarmRestart:   envBool("FILEGEN_WARM_RESTART", true),
		},
		RowGen: RowGenConfig{
			BaseURL:  os.Getenv("ROWGEN_BASE_URL"),
			Timeout:  envDuration("ROWGEN_TIMEOUT", 30*time.Second),
			Fallback: envString("ROWGEN_FALLBACK", FallbackBuiltin),
		},
		Translator: TranslatorConfig{
			BaseURL: os.Getenv("TRANSLATOR_BASE_URL"),
			Timeout: envDuration("TRANSLATOR_TIMEOUT", 30*time.Second),
			Stub:    envBool("TRANSLATOR_STUB", env == "test"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultStageDelay(env string) time.Duration {
	if env == "test" {
		return 0
	}
	return 100 * time.Millisecond
}

func (c *Config) validate() error {
	if c.Jobs.OutputRoot == "" {
		return fmt.Errorf("FILEGEN_OUTPUT_ROOT is required")
	}
	if c.Jobs.StoreDir == "" {
		return fmt.Errorf("FILEGEN_STORE_DIR is required")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("FILEGEN_MAX_CONCURRENT_JOBS must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.RetentionDays < 0 {
		return fmt.Errorf("FILEGEN_JOB_RETENTION_DAYS must not be negative, got %d", c.Jobs.RetentionDays)
	}

	if c.RowGen.BaseURL != "" && !strings.HasPrefix(c.RowGen.BaseURL, "http://") && !strings.HasPrefix(c.RowGen.BaseURL, "https://") {
		return fmt.Errorf("ROWGEN_BASE_URL must start with http:// or https://, got %q", c.RowGen.BaseURL)
	}
	if c.Translator.BaseURL != "" && !strings.HasPrefix(c.Translator.BaseURL, "http://") && !strings.HasPrefix(c.Translator.BaseURL, "https://") {
		return fmt.Errorf("TRANSLATOR_BASE_URL must start with http:// or https://, got %q", c.Translator.BaseURL)
	}

	if c.RowGen.Fallback != FallbackBuiltin && c.RowGen.Fallback != FallbackNone {
		return fmt.Errorf("ROWGEN_FALLBACK must be %q or %q, got %q", FallbackBuiltin, FallbackNone, c.RowGen.Fallback)
	}
	if c.RowGen.BaseURL == "" && c.RowGen.Fallback == FallbackNone {
		return fmt.Errorf("row generation is unconfigured: set ROWGEN_BASE_URL or ROWGEN_FALLBACK=builtin")
	}

	if c.Translator.BaseURL == "" && !c.Translator.Stub {
		return fmt.Errorf("report translation is unconfigured: set TRANSLATOR_BASE_URL or TRANSLATOR_STUB")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
