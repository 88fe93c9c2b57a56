package domain

import "time"

// AgentConfig is the configuration handed to the host process with each
// StartNewTask command. Settings is free-form and passed through untouched.
type AgentConfig struct {
	Model           string            `json:"model"`
	Provider        string            `json:"provider,omitempty"`
	ReasoningEffort string            `json:"reasoningEffort,omitempty"`
	AutoApprove     bool              `json:"autoApprove"`
	Settings        map[string]string `json:"settings,omitempty"`
}

// Run represents one evaluation campaign: many tasks against one model
// configuration, sharing one IPC server address.
type Run struct {
	ID          int64
	Model       string
	Concurrency int
	ServerAddr  string
	AgentConfig AgentConfig
	Status      RunStatus
	Passed      int
	Failed      int
	CreatedAt   time.Time
	FinishedAt  *time.Time
}
