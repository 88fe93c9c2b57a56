// Package evalprotocol defines the message set exchanged between the
// evaluation harness and agent host processes. Messages flow as JSON text
// frames over one WebSocket connection per host process.
package evalprotocol

import (
	"encoding/json"

	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
)

// Origin identifies which side of the agent protocol issued a message:
// the orchestrating client or the agent-embedding server side.
type Origin string

const (
	OriginClient Origin = "client"
	OriginServer Origin = "server"
)

// Envelope wraps all messages with type and origin discriminators.
// Server-issued messages may target exactly one connected client via
// RelayClientID; when unset they are broadcast.
type Envelope struct {
	Type          string      `json:"type"`
	Origin        Origin      `json:"origin"`
	RelayClientID string      `json:"relayClientId,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload needs to be
// unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type          string          `json:"type"`
	Origin        Origin          `json:"origin"`
	RelayClientID string          `json:"relayClientId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// MarshalCommand creates a client-issued envelope
func MarshalCommand(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Origin: OriginClient, Data: data})
}

// MarshalEvent creates a server-issued envelope. relayClientID may be empty
// for broadcast.
func MarshalEvent(msgType, relayClientID string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Origin: OriginServer, RelayClientID: relayClientID, Data: data})
}

// Command messages (client -> server, delivered to the attached host process)

// StartNewTaskMessage instructs the host to begin working on an exercise
type StartNewTaskMessage struct {
	Configuration domain.AgentConfig `json:"configuration"`
	Text          string             `json:"text"`
	NewTab        bool               `json:"newTab"`
}

// CancelTaskMessage requests cooperative cancellation of a task
type CancelTaskMessage struct {
	TaskID string `json:"taskId"` // external id
}

// CloseTaskMessage asks the host to tear down a finished task
type CloseTaskMessage struct {
	TaskID string `json:"taskId"` // external id
}

// SetTaskContextMessage binds a host-side task to its harness identity.
// Sent only after the external id has been registered in the correlation
// bridge; the host must reply with a TaskContextConfirmation before any
// start command is issued.
type SetTaskContextMessage struct {
	TaskID            int64  `json:"taskId"` // internal id
	ExternalID        string `json:"externalId"`
	RunID             int64  `json:"runId"`
	ServerURL         string `json:"serverUrl,omitempty"`
	UserIntent        string `json:"userIntent,omitempty"`
	TelemetryEndpoint string `json:"telemetryEndpoint,omitempty"`
}

// TaskContextConfirmationMessage acknowledges (or rejects) a SetTaskContext
type TaskContextConfirmationMessage struct {
	TaskID     int64  `json:"taskId"`
	ExternalID string `json:"externalId"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Event messages (host process -> server -> broadcast)

// TaskEventMessage is the shared payload of lifecycle events. Only the
// fields relevant to a given event type are populated.
type TaskEventMessage struct {
	TaskID  string `json:"taskId"` // external id
	Message string `json:"message,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// TokenUsage is the incremental usage payload carried by
// TaskTokenUsageUpdated and, finally, TaskCompleted.
type TokenUsage struct {
	TokensIn      int     `json:"totalTokensIn"`
	TokensOut     int     `json:"totalTokensOut"`
	ContextTokens int     `json:"contextTokens"`
	CacheWrites   int     `json:"totalCacheWrites"`
	CacheReads    int     `json:"totalCacheReads"`
	CostUSD       float64 `json:"totalCost"`
}

// TaskCompletedMessage carries the final usage tallies for a task
type TaskCompletedMessage struct {
	TaskID     string                      `json:"taskId"`
	Usage      TokenUsage                  `json:"tokenUsage"`
	ToolUsage  map[string]domain.ToolUsage `json:"toolUsage,omitempty"`
	DurationMs int64                       `json:"durationMs"`
}

// TaskTokenUsageMessage is the high-frequency usage delta event
type TaskTokenUsageMessage struct {
	TaskID string     `json:"taskId"`
	Usage  TokenUsage `json:"tokenUsage"`
}

// TaskToolFailedMessage reports a single failed tool execution
type TaskToolFailedMessage struct {
	TaskID string `json:"taskId"`
	Tool   string `json:"tool"`
	Error  string `json:"error,omitempty"`
}

// EvalResultMessage is emitted by the harness itself after unit-test
// scoring (EvalPass / EvalFail only).
type EvalResultMessage struct {
	TaskID   string `json:"taskId"`
	Language string `json:"language"`
	Exercise string `json:"exercise"`
}

// Message type constants
const (
	// commands
	TypeStartNewTask   = "startNewTask"
	TypeCancelTask     = "cancelTask"
	TypeCloseTask      = "closeTask"
	TypeSetTaskContext = "setTaskContext"

	// confirmation
	TypeTaskContextConfirmation = "taskContextConfirmation"

	// events
	TypeMessage              = "message"
	TypeTaskStarted          = "taskStarted"
	TypeTaskModeSwitched     = "taskModeSwitched"
	TypeTaskPaused           = "taskPaused"
	TypeTaskUnpaused         = "taskUnpaused"
	TypeTaskAskResponded     = "taskAskResponded"
	TypeTaskAborted          = "taskAborted"
	TypeTaskSpawned          = "taskSpawned"
	TypeTaskCompleted        = "taskCompleted"
	TypeTaskTokenUsageUpdate = "taskTokenUsageUpdated"
	TypeTaskToolFailed       = "taskToolFailed"
	TypeEvalPass             = "evalPass"
	TypeEvalFail             = "evalFail"
)

// IsTerminal reports whether an event type ends a task's streaming phase
func IsTerminal(msgType string) bool {
	return msgType == TypeTaskCompleted || msgType == TypeTaskAborted
}

// IsHighFrequency reports whether an event type is excluded from the
// broadcast relay (raw message deltas would swamp observers).
func IsHighFrequency(msgType string) bool {
	return msgType == TypeMessage || msgType == TypeTaskTokenUsageUpdate
}
