package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Queue    QueueConfig    `toml:"queue" yaml:"queue"`
	Curation CurationConfig `toml:"curation" yaml:"curation"`
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int    `toml:"port" yaml:"port"`
	Mode string `toml:"mode" yaml:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig selects and configures the gorm driver
type DatabaseConfig struct {
	Driver   string `toml:"driver" yaml:"driver"` // mysql or sqlite
	Path     string `toml:"path" yaml:"path"`     // sqlite file path
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	DBName   string `toml:"dbname" yaml:"dbname"`
	Charset  string `toml:"charset" yaml:"charset"`
}

// QueueConfig holds background job settings
type QueueConfig struct {
	Concurrency              int  `toml:"concurrency" yaml:"concurrency"`
	CancelWaitTimeoutSeconds int  `toml:"cancel_wait_timeout_seconds" yaml:"cancel_wait_timeout_seconds"` // Bound on waiting for a cancelled job to stop (default 10)
	ResumeOnStart            bool `toml:"resume_on_start" yaml:"resume_on_start"`                         // Re-enqueue unfinished optimizations when serving
}

// CurationConfig tunes dataset curation from traces
type CurationConfig struct {
	PageSize               int     `toml:"page_size" yaml:"page_size"`                                 // Traces fetched per search iteration (default 50)
	MaxExamplesPerPolarity int     `toml:"max_examples_per_polarity" yaml:"max_examples_per_polarity"` // Cap on rows kept per polarity (default 100)
	TrainsetRatio          float64 `toml:"trainset_ratio" yaml:"trainset_ratio"`                       // Share of rows assigned to the trainset (default 0.7)
}

// EngineConfig represents the OpenAI-compatible endpoint used by the llm engine
type EngineConfig struct {
	BaseURL            string  `toml:"base_url" yaml:"base_url"`
	ModelName          string  `toml:"model_name" yaml:"model_name"`
	Temperature        float64 `toml:"temperature" yaml:"temperature"`
	TopP               float64 `toml:"top_p" yaml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens" yaml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds" yaml:"http_timeout_seconds"` // 0 = default (300)
	MaxExamples        int     `toml:"max_examples" yaml:"max_examples"`                 // Trainset rows included in the engine prompt
	PromptTemplate     string  `toml:"prompt_template" yaml:"prompt_template"`
	SystemPrompt       string  `toml:"system_prompt" yaml:"system_prompt"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"` // debug, info, warn, error
	File  string `toml:"file" yaml:"file"`   // Optional JSON log file
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	EngineAPIKey string
}

const (
	// MaxConcurrency is the maximum allowed queue concurrency
	MaxConcurrency = 256
	// MaxPageSize is the maximum traces fetched per search iteration
	MaxPageSize = 1000
	// MaxExamplesPerPolarity is the upper bound for curated rows per polarity
	MaxExamplesPerPolarity = 10000
)

// CancelWaitTimeout returns the cancellation wait bound as a duration
func (q QueueConfig) CancelWaitTimeout() time.Duration {
	return time.Duration(q.CancelWaitTimeoutSeconds) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be one of: debug, release, test (got %s)", c.Server.Mode)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the mysql driver")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database.dbname is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver must be one of: mysql, sqlite (got %s)", c.Database.Driver)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if c.Queue.Concurrency > MaxConcurrency {
		return fmt.Errorf("queue.concurrency must not exceed %d (got %d)", MaxConcurrency, c.Queue.Concurrency)
	}
	if c.Queue.CancelWaitTimeoutSeconds < 1 {
		return fmt.Errorf("queue.cancel_wait_timeout_seconds must be at least 1")
	}

	if c.Curation.PageSize < 1 || c.Curation.PageSize > MaxPageSize {
		return fmt.Errorf("curation.page_size must be between 1 and %d (got %d)", MaxPageSize, c.Curation.PageSize)
	}
	if c.Curation.MaxExamplesPerPolarity < 2 || c.Curation.MaxExamplesPerPolarity > MaxExamplesPerPolarity {
		return fmt.Errorf("curation.max_examples_per_polarity must be between 2 and %d (got %d)", MaxExamplesPerPolarity, c.Curation.MaxExamplesPerPolarity)
	}
	if c.Curation.TrainsetRatio <= 0 || c.Curation.TrainsetRatio >= 1 {
		return fmt.Errorf("curation.trainset_ratio must be between 0.0 and 1.0 exclusive (got %.2f)", c.Curation.TrainsetRatio)
	}

	if err := validateEngineConfig(c.Engine); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got %s)", c.Logging.Level)
	}

	return nil
}

func validateEngineConfig(ec EngineConfig) error {
	if ec.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if ec.ModelName == "" {
		return fmt.Errorf("engine.model_name is required")
	}
	if ec.Temperature < 0 || ec.Temperature > 2 {
		return fmt.Errorf("engine.temperature must be between 0 and 2")
	}
	if ec.TopP < 0 || ec.TopP > 1 {
		return fmt.Errorf("engine.top_p must be between 0 and 1")
	}
	if ec.MaxOutputTokens < 1 {
		return fmt.Errorf("engine.max_output_tokens must be at least 1")
	}
	if ec.RateLimitPerMinute < 1 {
		return fmt.Errorf("engine.rate_limit_per_minute must be at least 1")
	}
	if ec.MaxExamples < 1 {
		return fmt.Errorf("engine.max_examples must be at least 1")
	}
	if ec.PromptTemplate == "" {
		return fmt.Errorf("engine.prompt_template is required")
	}
	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() *Secrets {
	secrets := &Secrets{}

	// Provider specific key wins over the generic one
	if key := os.Getenv("OPTIFORGE_ENGINE_API_KEY"); key != "" {
		secrets.EngineAPIKey = key
	} else {
		secrets.EngineAPIKey = os.Getenv("API_KEY")
	}

	return secrets
}
