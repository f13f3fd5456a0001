package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CouncilConfig represents the top-level council.yml configuration
type CouncilConfig struct {
	Version      string                 `yaml:"version"`
	Participants map[string]Participant `yaml:"participants"`
	Chair        string                 `yaml:"chair"`
	Timeouts     *TimeoutsConfig        `yaml:"timeouts,omitempty"`
	TargetRepo   string                 `yaml:"target_repo"`
}

// Participant represents a single roster entry
type Participant struct {
	Model       string `yaml:"model"` // Required: provider model identifier
	Description string `yaml:"description,omitempty"`
}

// TimeoutsConfig specifies per-stage call timeouts in seconds
type TimeoutsConfig struct {
	DraftSeconds    int `yaml:"draft_seconds,omitempty"`    // Default: 300
	CritiqueSeconds int `yaml:"critique_seconds,omitempty"` // Default: 300
	ChairSeconds    int `yaml:"chair_seconds,omitempty"`    // Default: 600
}

// Draft returns the draft-stage timeout.
func (t *TimeoutsConfig) Draft() time.Duration {
	return time.Duration(t.DraftSeconds) * time.Second
}

// Critique returns the critique-stage timeout.
func (t *TimeoutsConfig) Critique() time.Duration {
	return time.Duration(t.CritiqueSeconds) * time.Second
}

// Chair returns the chair-stage timeout.
func (t *TimeoutsConfig) Chair() time.Duration {
	return time.Duration(t.ChairSeconds) * time.Second
}

// Validate performs strict validation on the configuration
func (c *CouncilConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Deliberation needs at least two drafters to be a deliberation
	if len(c.Participants) < 2 {
		return fmt.Errorf("at least 2 participants required, got %d", len(c.Participants))
	}

	for name, p := range c.Participants {
		if p.Model == "" {
			return fmt.Errorf("participant '%s': model is required", name)
		}
	}

	// Enforce unique models across the roster
	modelsSeen := make(map[string]string) // model → participant name
	for name, p := range c.Participants {
		if existing, exists := modelsSeen[p.Model]; exists {
			return fmt.Errorf("duplicate model '%s' found (participants '%s' and '%s'): all participants must use distinct models",
				p.Model, existing, name)
		}
		modelsSeen[p.Model] = name
	}

	// Required: chair must name a roster entry
	if c.Chair == "" {
		return fmt.Errorf("chair is required")
	}
	if _, ok := c.Participants[c.Chair]; !ok {
		return fmt.Errorf("chair '%s' is not a configured participant", c.Chair)
	}

	// Required: target repository path
	if c.TargetRepo == "" {
		return fmt.Errorf("target_repo is required")
	}

	// Apply default timeouts if missing
	if c.Timeouts == nil {
		c.Timeouts = &TimeoutsConfig{}
	}
	if c.Timeouts.DraftSeconds == 0 {
		c.Timeouts.DraftSeconds = 300
	}
	if c.Timeouts.CritiqueSeconds == 0 {
		c.Timeouts.CritiqueSeconds = 300
	}
	if c.Timeouts.ChairSeconds == 0 {
		c.Timeouts.ChairSeconds = 600
	}
	if c.Timeouts.DraftSeconds < 0 || c.Timeouts.CritiqueSeconds < 0 || c.Timeouts.ChairSeconds < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}

	return nil
}

// ChairModel returns the chair participant's model identifier. Only valid
// after Validate has passed.
func (c *CouncilConfig) ChairModel() string {
	return c.Participants[c.Chair].Model
}

// Load reads and validates council.yml from the specified path
func Load(path string) (*CouncilConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config CouncilConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
