// Package config loads harness configuration from a TOML file, layered
// over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all harness configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Agent   AgentConfig   `toml:"agent"`
	Host    HostConfig    `toml:"host"`
	Run     RunConfig     `toml:"run"`
	Server  ServerConfig  `toml:"server"`
	Tests   TestsConfig   `toml:"tests"`
}

// GeneralConfig holds paths and storage settings
type GeneralConfig struct {
	DatabasePath  string `toml:"database_path"`
	ExercisesRoot string `toml:"exercises_root"`
}

// AgentConfig holds the agent settings forwarded to host processes
type AgentConfig struct {
	Model           string            `toml:"model"`
	Provider        string            `toml:"provider"`
	ReasoningEffort string            `toml:"reasoning_effort"`
	AutoApprove     bool              `toml:"auto_approve"`
	Settings        map[string]string `toml:"settings"`
}

// HostConfig describes how to spawn an agent host process
type HostConfig struct {
	Command []string `toml:"command"`
	Env     []string `toml:"env"`
}

// RunConfig holds scheduling and timeout settings
type RunConfig struct {
	Concurrency      int           `toml:"concurrency"`
	Stagger          time.Duration `toml:"stagger"`
	ReadyTimeout     time.Duration `toml:"ready_timeout"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	TaskTimeout      time.Duration `toml:"task_timeout"`
	CancelGrace      time.Duration `toml:"cancel_grace"`
	CloseGrace       time.Duration `toml:"close_grace"`
}

// ServerConfig holds IPC server settings. Port 0 picks an ephemeral port,
// which is the right choice for parallel runs.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TestsConfig holds unit-test runner settings
type TestsConfig struct {
	Timeout  time.Duration       `toml:"timeout"`
	Commands map[string][]string `toml:"commands"` // per-language overrides
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:  filepath.Join(home, ".claude-eval", "evals.db"),
			ExercisesRoot: filepath.Join(home, ".claude-eval", "exercises"),
		},
		Agent: AgentConfig{
			Model:       "claude-sonnet-4-20250514",
			AutoApprove: true,
		},
		Run: RunConfig{
			Concurrency:      3,
			Stagger:          time.Second,
			ReadyTimeout:     30 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			TaskTimeout:      5 * time.Minute,
			CancelGrace:      5 * time.Second,
			CloseGrace:       2 * time.Second,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Tests: TestsConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.ExercisesRoot = ExpandPath(cfg.General.ExercisesRoot)

	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be at least 1")
	}
	if len(c.Host.Command) == 0 {
		return fmt.Errorf("host.command is required")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "claude-eval", "config.toml")
}
