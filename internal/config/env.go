package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Env holds process-level settings sourced from the environment. File
// config describes the council; the environment describes where it runs.
type Env struct {
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string `env:"REDIS_PASS"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	Namespace       string `env:"COUNCIL_NAMESPACE" envDefault:"default"`
}

// LoadEnv parses environment settings.
func LoadEnv() (*Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// RequireAPIKey errors when no Anthropic key is configured. Commands that
// never call a model skip this check.
func (e *Env) RequireAPIKey() error {
	if e.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	return nil
}
