package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Run.Concurrency != 3 {
		t.Errorf("Run.Concurrency = %d, want 3", cfg.Run.Concurrency)
	}
	if cfg.Run.TaskTimeout != 5*time.Minute {
		t.Errorf("Run.TaskTimeout = %v, want 5m", cfg.Run.TaskTimeout)
	}
	if cfg.Run.HandshakeTimeout != 5*time.Second {
		t.Errorf("Run.HandshakeTimeout = %v, want 5s", cfg.Run.HandshakeTimeout)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 0 {
		t.Errorf("Server.Port = %d, want 0 (ephemeral)", cfg.Server.Port)
	}
	if cfg.Tests.Timeout != 2*time.Minute {
		t.Errorf("Tests.Timeout = %v, want 2m", cfg.Tests.Timeout)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Run.Concurrency != 3 {
		t.Errorf("Run.Concurrency = %d, want default 3", cfg.Run.Concurrency)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
database_path = "/data/evals.db"
exercises_root = "/data/exercises"

[agent]
model = "claude-opus-4-20250514"
reasoning_effort = "high"

[host]
command = ["agent-host", "--headless"]
env = ["AGENT_LOG=debug"]

[run]
concurrency = 8
task_timeout = "10m0s"

[tests]
timeout = "1m0s"

[tests.commands]
go = ["go vet ./...", "go test ./..."]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/data/evals.db" {
		t.Errorf("DatabasePath = %q", cfg.General.DatabasePath)
	}
	if cfg.Agent.Model != "claude-opus-4-20250514" {
		t.Errorf("Agent.Model = %q", cfg.Agent.Model)
	}
	if len(cfg.Host.Command) != 2 || cfg.Host.Command[0] != "agent-host" {
		t.Errorf("Host.Command = %v", cfg.Host.Command)
	}
	if cfg.Run.Concurrency != 8 {
		t.Errorf("Run.Concurrency = %d, want 8", cfg.Run.Concurrency)
	}
	if cfg.Run.TaskTimeout != 10*time.Minute {
		t.Errorf("Run.TaskTimeout = %v, want 10m", cfg.Run.TaskTimeout)
	}
	// Untouched sections keep their defaults
	if cfg.Run.CancelGrace != 5*time.Second {
		t.Errorf("Run.CancelGrace = %v, want default 5s", cfg.Run.CancelGrace)
	}
	if got := cfg.Tests.Commands["go"]; len(got) != 2 || got[0] != "go vet ./..." {
		t.Errorf("Tests.Commands[go] = %v", got)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[host]
command = ["agent-host"]

[run]
concurrency = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("zero concurrency should be rejected")
	}
}

func TestValidate_RequiresHostCommand(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("missing host.command should be rejected")
	}

	cfg.Host.Command = []string{"agent-host"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/evals", filepath.Join(home, "evals")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
