// Package batch schedules recurring evaluation runs from cron expressions,
// so nightly or weekly eval sweeps run without an operator.
package batch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/claude-eval-harness/internal/runner"
)

// BatchConfig describes one scheduled evaluation batch
type BatchConfig struct {
	Name        string        `toml:"name"`
	Cron        string        `toml:"cron"`
	Model       string        `toml:"model"`       // overrides the configured default when set
	Concurrency int           `toml:"concurrency"` // overrides the configured default when > 0
	Languages   []string      `toml:"languages"`   // each selects all exercises of the language
	Exercises   []string      `toml:"exercises"`   // "language/exercise" entries
	MaxDuration time.Duration `toml:"max_duration"`
}

// ScheduleConfig holds all batch configurations
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// Validate checks if the config is valid
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if len(c.Languages) == 0 && len(c.Exercises) == 0 {
		return fmt.Errorf("batch %s selects no exercises", c.Name)
	}
	for _, e := range c.Exercises {
		if !strings.Contains(e, "/") {
			return fmt.Errorf("exercise %q must be language/exercise", e)
		}
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 4 * time.Hour // Default
	}
	return nil
}

// Selections converts the batch's language and exercise lists into
// scheduler selections
func (c *BatchConfig) Selections() []runner.Selection {
	var sels []runner.Selection
	for _, lang := range c.Languages {
		sels = append(sels, runner.Selection{Language: lang})
	}
	for _, e := range c.Exercises {
		parts := strings.SplitN(e, "/", 2)
		sels = append(sels, runner.Selection{Language: parts[0], Exercise: parts[1]})
	}
	return sels
}

// LoadScheduleConfig loads batch configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Validate all batches
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	return &cfg, nil
}
