// Package config loads the JSON config file, an optional .env file and environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the application configuration.
type Config struct {
	LLM        LLMConfig      `json:"llm"`
	Catalog    CatalogConfig  `json:"catalog"`
	Database   DatabaseConfig `json:"database"`
	Progress   ProgressConfig `json:"progress"`
	ServerAddr string         `json:"server_addr,omitempty"`
	// GenerationTimeoutSeconds bounds one generation request (LLM + catalog).
	GenerationTimeoutSeconds int `json:"generation_timeout_seconds,omitempty"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	MaxTokens int64  `json:"max_tokens,omitempty"`
}

// CatalogConfig configures the Rebrickable lookup. An empty APIKey disables it.
type CatalogConfig struct {
	APIKey         string `json:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// DatabaseConfig selects the store. An empty Path keeps records in memory.
type DatabaseConfig struct {
	Path string `json:"path,omitempty"`
}

// ProgressConfig tunes the progress estimate.
type ProgressConfig struct {
	EstimatedSeconds int `json:"estimated_seconds,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-pro",
		},
		Catalog: CatalogConfig{
			TimeoutSeconds: 30,
		},
		Progress: ProgressConfig{
			EstimatedSeconds: 45,
		},
		ServerAddr:               ":8080",
		GenerationTimeoutSeconds: 300,
	}
}

// Load reads .env (if present) and the JSON config at path on top of Defaults, then
// applies environment overrides. A missing config file is not an error.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.Catalog.APIKey, "REBRICKABLE_API_KEY")
	setString(&cfg.Catalog.BaseURL, "REBRICKABLE_BASE_URL")
	setString(&cfg.ServerAddr, "SERVER_ADDR")
	setString(&cfg.Database.Path, "DB_PATH")
	if v, err := strconv.Atoi(os.Getenv("PROGRESS_ESTIMATED_SECONDS")); err == nil {
		cfg.Progress.EstimatedSeconds = v
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that have no sensible fallback.
func (c Config) Validate() error {
	if c.Progress.EstimatedSeconds <= 0 {
		return errors.New("progress.estimated_seconds must be positive")
	}
	if c.GenerationTimeoutSeconds < 0 || c.Catalog.TimeoutSeconds < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// EstimatedTotal is the configured progress estimate.
func (c Config) EstimatedTotal() time.Duration {
	return time.Duration(c.Progress.EstimatedSeconds) * time.Second
}

// GenerationTimeout is the per-request bound, 0 meaning none.
func (c Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// CatalogTimeout is the HTTP timeout of catalog requests.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}
