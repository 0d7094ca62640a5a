package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file and environment variables.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, nil, err
	}

	return cfg, LoadSecrets(), nil
}

// Parse decodes, defaults and validates configuration bytes
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, backed by a local sqlite file
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "optiforge.db"
	}
	if cfg.Database.Driver == "mysql" {
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 3306
		}
		if cfg.Database.Charset == "" {
			cfg.Database.Charset = "utf8mb4"
		}
	}

	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.CancelWaitTimeoutSeconds == 0 {
		cfg.Queue.CancelWaitTimeoutSeconds = 10
	}

	if cfg.Curation.PageSize == 0 {
		cfg.Curation.PageSize = 50
	}
	if cfg.Curation.MaxExamplesPerPolarity == 0 {
		cfg.Curation.MaxExamplesPerPolarity = 100
	}
	if cfg.Curation.TrainsetRatio == 0 {
		cfg.Curation.TrainsetRatio = 0.7
	}

	if cfg.Engine.BaseURL == "" {
		cfg.Engine.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Engine.ModelName == "" {
		cfg.Engine.ModelName = "gpt-4o"
	}
	if cfg.Engine.Temperature == 0 {
		cfg.Engine.Temperature = 0.7
	}
	if cfg.Engine.TopP == 0 {
		cfg.Engine.TopP = 1.0
	}
	if cfg.Engine.MaxOutputTokens == 0 {
		cfg.Engine.MaxOutputTokens = 4096
	}
	if cfg.Engine.RateLimitPerMinute == 0 {
		cfg.Engine.RateLimitPerMinute = 60
	}
	if cfg.Engine.MaxExamples == 0 {
		cfg.Engine.MaxExamples = 20
	}
	if cfg.Engine.PromptTemplate == "" {
		cfg.Engine.PromptTemplate = GetDefaultEngineTemplate()
	}
	if cfg.Engine.SystemPrompt == "" {
		cfg.Engine.SystemPrompt = GetDefaultEngineSystemPrompt()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
