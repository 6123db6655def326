package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ai-maildigest/pipeline"
)

// Settings are the non-secret options, loaded from config.yaml. Missing
// file or fields fall back to defaults.
type Settings struct {
	Gmail struct {
		Query             string `yaml:"query"`
		MaxResultsPerPage int64  `yaml:"maxResultsPerPage"`
		MaxTotalMessages  int64  `yaml:"maxTotalMessages"`
	} `yaml:"gmail"`
	AI struct {
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"maxTokens"`
		Temperature float64 `yaml:"temperature"`
		BatchSize   int     `yaml:"batchSize"`
		RateLimit   struct {
			Capacity        int     `yaml:"capacity"`
			RefillPerSecond float64 `yaml:"refillPerSecond"`
		} `yaml:"rateLimit"`
	} `yaml:"ai"`
	Slack struct {
		IncludeReplyDrafts bool `yaml:"includeReplyDrafts"`
		MaxPerCategory     int  `yaml:"maxPerCategory"`
	} `yaml:"slack"`
	Report struct {
		OutputPath string `yaml:"outputPath"`
	} `yaml:"report"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Secrets come from the environment (optionally via .env).
type Secrets struct {
	GmailClientID     string `env:"GMAIL_CLIENT_ID,required"`
	GmailClientSecret string `env:"GMAIL_CLIENT_SECRET,required"`
	GmailRefreshToken string `env:"GMAIL_REFRESH_TOKEN,required"`
	UserEmail         string `env:"USER_EMAIL"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY,required"`
	SlackBotToken     string `env:"SLACK_BOT_TOKEN,required"`
	SlackUserID       string `env:"SLACK_USER_ID,required"`
}

// Config is the single immutable configuration value handed to every
// component at run start.
type Config struct {
	Settings
	Secrets
}

func defaultSettings() Settings {
	var s Settings
	s.Gmail.Query = "has:nouserlabels newer_than:2h"
	s.Gmail.MaxResultsPerPage = 100
	s.Gmail.MaxTotalMessages = 500
	s.AI.Model = "claude-sonnet-4-5"
	s.AI.MaxTokens = 4096
	s.AI.Temperature = 0.2
	s.AI.BatchSize = 10
	s.AI.RateLimit.Capacity = 5
	s.AI.RateLimit.RefillPerSecond = 1
	s.Slack.IncludeReplyDrafts = true
	s.Slack.MaxPerCategory = 15
	s.Logging.Level = "info"
	return s
}

// loadConfig reads config.yaml (if present) over the defaults, then
// overlays secrets from .env/environment. Invalid parameters fail here,
// before the pipeline is constructed.
func loadConfig(path string) (*Config, error) {
	// .env is optional; real environments set the variables directly.
	_ = godotenv.Load()

	cfg := &Config{Settings: defaultSettings()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg.Settings); err != nil {
			return nil, pipeline.Errorf(pipeline.KindConfig, "parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, pipeline.Errorf(pipeline.KindConfig, "read %s: %w", path, err)
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, pipeline.Errorf(pipeline.KindConfig, "environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AI.BatchSize <= 0 {
		return pipeline.Errorf(pipeline.KindConfig, "ai.batchSize must be positive, got %d", c.AI.BatchSize)
	}
	if c.AI.RateLimit.Capacity <= 0 || c.AI.RateLimit.RefillPerSecond <= 0 {
		return pipeline.Errorf(pipeline.KindConfig,
			"ai.rateLimit capacity and refillPerSecond must be positive, got %d and %g",
			c.AI.RateLimit.Capacity, c.AI.RateLimit.RefillPerSecond)
	}
	if c.Gmail.MaxTotalMessages <= 0 || c.Gmail.MaxResultsPerPage <= 0 {
		return pipeline.Errorf(pipeline.KindConfig,
			"gmail.maxTotalMessages and gmail.maxResultsPerPage must be positive")
	}
	if c.Gmail.Query == "" {
		return pipeline.Errorf(pipeline.KindConfig, "gmail.query must not be empty")
	}
	return nil
}

// summary is a redacted one-line description for startup logging.
func (c *Config) summary() string {
	return fmt.Sprintf("model=%s batchSize=%d rate=%d@%g/s query=%q maxTotal=%d",
		c.AI.Model, c.AI.BatchSize, c.AI.RateLimit.Capacity,
		c.AI.RateLimit.RefillPerSecond, c.Gmail.Query, c.Gmail.MaxTotalMessages)
}
