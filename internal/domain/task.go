package domain

import (
	"fmt"
	"time"
)

// Task represents one language/exercise pairing executed by one
// host-process instance.
type Task struct {
	ID         int64
	RunID      int64
	Language   string
	Exercise   string
	Outcome    Outcome
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// Name returns the canonical language/exercise label
func (t *Task) Name() string {
	return fmt.Sprintf("%s/%s", t.Language, t.Exercise)
}

// Duration returns how long the task ran, or zero if it never started
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.FinishedAt != nil {
		return t.FinishedAt.Sub(*t.StartedAt)
	}
	return time.Since(*t.StartedAt)
}

// ToolUsage tracks attempts and failures for one tool
type ToolUsage struct {
	Attempts int `json:"attempts"`
	Failures int `json:"failures"`
}

// TaskMetrics aggregates token, cost and tool usage for one task.
// Updated incrementally as TaskTokenUsageUpdated events arrive and
// finalized from the TaskCompleted payload.
type TaskMetrics struct {
	TaskID        int64
	DurationMs    int64
	TokensIn      int
	TokensOut     int
	TokensContext int
	CacheWrites   int
	CacheReads    int
	CostUSD       float64
	ToolUsage     map[string]ToolUsage
}

// RecordToolFailure bumps the failure counter for a tool. Attempt counts
// are not tracked incrementally; they arrive whole in the completion payload.
func (m *TaskMetrics) RecordToolFailure(tool string) {
	if m.ToolUsage == nil {
		m.ToolUsage = make(map[string]ToolUsage)
	}
	u := m.ToolUsage[tool]
	u.Failures++
	m.ToolUsage[tool] = u
}
