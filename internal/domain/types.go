package domain

// Outcome is the tri-state result of a task evaluation
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
)

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
)

// TaskState represents the executor state machine position for a task
type TaskState string

const (
	TaskConnecting   TaskState = "connecting"
	TaskContextSet   TaskState = "context-set"
	TaskStarted      TaskState = "started"
	TaskStreaming    TaskState = "streaming"
	TaskFinished     TaskState = "finished"
	TaskTimedOut     TaskState = "timed-out"
	TaskDisconnected TaskState = "disconnected"
)
