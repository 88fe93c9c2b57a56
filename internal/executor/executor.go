// Package executor drives one task through its full lifecycle: spawn an
// isolated host process, claim its IPC connection, perform the context
// handshake, start the task, relay events until a terminal event or
// timeout, tear the process down, and score the result with the
// unit-test runner.
package executor

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/claude-eval-harness/internal/bridge"
	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalprotocol"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalserver"
	"github.com/hochfrequenz/claude-eval-harness/internal/unittest"
)

// Config holds the executor's timeout budget
type Config struct {
	ReadyTimeout     time.Duration // awaiting the host's IPC connection
	HandshakeTimeout time.Duration // awaiting TaskContextConfirmation
	TaskTimeout      time.Duration // wall clock for the whole task
	CancelGrace      time.Duration // after CancelTask, before giving up
	CloseGrace       time.Duration // after CloseTask, before hard kill
}

// DefaultConfig returns the representative timeout defaults
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:     30 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		TaskTimeout:      5 * time.Minute,
		CancelGrace:      5 * time.Second,
		CloseGrace:       2 * time.Second,
	}
}

// Store is the persistence surface the executor touches at lifecycle points
type Store interface {
	UpdateTaskStarted(id int64, at time.Time) error
	UpdateTaskFinished(id int64, outcome domain.Outcome, at time.Time) error
	UpsertTaskMetrics(m *domain.TaskMetrics) error
}

// Result is the settled outcome of one task execution
type Result struct {
	Success bool
	State   domain.TaskState
}

// Executor owns one task's lifecycle. Create with New, run once with Run.
type Executor struct {
	task     *domain.Task
	run      *domain.Run
	config   Config
	server   *evalserver.Server
	bridge   *bridge.Bridge
	store    Store
	launcher Launcher
	prompt   string
	workdir  string
	tests    *unittest.Runner

	externalID string
	metrics    domain.TaskMetrics
	finalized  bool
}

// New creates an Executor for one task
func New(task *domain.Task, run *domain.Run, config Config, server *evalserver.Server,
	br *bridge.Bridge, store Store, launcher Launcher, prompt, workdir string, tests *unittest.Runner) *Executor {
	return &Executor{
		task:     task,
		run:      run,
		config:   config,
		server:   server,
		bridge:   br,
		store:    store,
		launcher: launcher,
		prompt:   prompt,
		workdir:  workdir,
		tests:    tests,
		metrics:  domain.TaskMetrics{TaskID: task.ID},
	}
}

// ExternalID returns the host-facing identifier minted for this task.
// Empty until the handshake phase has begun.
func (e *Executor) ExternalID() string {
	return e.externalID
}

// Run executes the task lifecycle. Failures are contained: Run always
// settles to a Result and never panics the scheduler.
func (e *Executor) Run(ctx context.Context) Result {
	// connecting: spawn the host and wait for its connection to arrive
	proc, err := e.launcher.Launch(ctx, e.server.Addr(), e.workdir)
	if err != nil {
		log.Printf("[executor] task %s: launching host: %v", e.task.Name(), err)
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: domain.TaskConnecting}
	}
	defer func() {
		// Defense in depth: the process is always hard-terminated at
		// executor teardown, whatever happened above.
		if err := proc.Kill(); err != nil {
			log.Printf("[executor] task %s: killing host pid %d: %v", e.task.Name(), proc.Pid(), err)
		}
	}()

	readyCtx, cancelReady := context.WithTimeout(ctx, e.config.ReadyTimeout)
	client, err := e.server.AwaitClient(readyCtx)
	cancelReady()
	if err != nil {
		log.Printf("[executor] task %s: host never connected: %v", e.task.Name(), err)
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: domain.TaskConnecting}
	}
	defer client.Close()

	// context-set: the mapping must exist before the host can learn the
	// external id, so telemetry can never reference an unregistered id.
	e.externalID = uuid.NewString()
	e.bridge.Register(e.externalID, e.task.ID)

	if err := e.server.Send(client.ID, evalprotocol.TypeSetTaskContext, evalprotocol.SetTaskContextMessage{
		TaskID:            e.task.ID,
		ExternalID:        e.externalID,
		RunID:             e.run.ID,
		ServerURL:         e.server.Addr(),
		UserIntent:        "evals",
		TelemetryEndpoint: e.run.ServerAddr,
	}); err != nil {
		log.Printf("[executor] task %s: sending task context: %v", e.task.Name(), err)
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: domain.TaskContextSet}
	}

	if err := e.awaitConfirmation(client); err != nil {
		// Aborted without ever issuing a start command
		log.Printf("[executor] task %s: handshake failed: %v", e.task.Name(), err)
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: domain.TaskContextSet}
	}

	// started
	if err := e.server.Send(client.ID, evalprotocol.TypeStartNewTask, evalprotocol.StartNewTaskMessage{
		Configuration: e.run.AgentConfig,
		Text:          e.prompt,
		NewTab:        true,
	}); err != nil {
		log.Printf("[executor] task %s: sending start: %v", e.task.Name(), err)
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: domain.TaskStarted}
	}

	// streaming
	state, aborted := e.stream(ctx, client)

	if state == domain.TaskTimedOut {
		e.cancelTask(client)
	}
	e.closeTask(client)

	if aborted || state == domain.TaskDisconnected {
		e.finalize(domain.OutcomeFailed)
		return Result{Success: false, State: state}
	}

	// The agent finished (or was cut off with an intact workspace); score it
	passed := e.score(ctx)
	if passed {
		e.finalize(domain.OutcomePassed)
	} else {
		e.finalize(domain.OutcomeFailed)
	}
	return Result{Success: passed, State: state}
}

// awaitConfirmation waits for the host to acknowledge SetTaskContext
func (e *Executor) awaitConfirmation(client *evalserver.Client) error {
	timer := time.NewTimer(e.config.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return context.DeadlineExceeded
		case env, ok := <-client.Events():
			if !ok {
				return errDisconnected
			}
			if env.Type != evalprotocol.TypeTaskContextConfirmation {
				continue
			}
			var conf evalprotocol.TaskContextConfirmationMessage
			if err := json.Unmarshal(env.Data, &conf); err != nil {
				log.Printf("[executor] task %s: invalid confirmation: %v", e.task.Name(), err)
				continue
			}
			if conf.TaskID != e.task.ID || conf.ExternalID != e.externalID {
				continue // stale confirmation for another handshake
			}
			if !conf.Success {
				return &handshakeError{reason: conf.Error}
			}
			return nil
		}
	}
}

// stream relays events until a terminal event, disconnect or the wall-clock
// budget. Returns the terminal state and whether the task aborted.
func (e *Executor) stream(ctx context.Context, client *evalserver.Client) (domain.TaskState, bool) {
	timer := time.NewTimer(e.config.TaskTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.TaskTimedOut, false
		case <-timer.C:
			log.Printf("[executor] task %s: wall-clock budget exceeded", e.task.Name())
			return domain.TaskTimedOut, false
		case env, ok := <-client.Events():
			if !ok {
				log.Printf("[executor] task %s: host disconnected mid-stream", e.task.Name())
				return domain.TaskDisconnected, false
			}
			if terminal, aborted := e.handleEvent(env); terminal {
				return domain.TaskFinished, aborted
			}
		}
	}
}

// handleEvent processes one received message. Returns (terminal, aborted).
func (e *Executor) handleEvent(env evalprotocol.EnvelopeRaw) (bool, bool) {
	switch env.Type {
	case evalprotocol.TypeTaskStarted:
		if err := e.store.UpdateTaskStarted(e.task.ID, time.Now()); err != nil {
			log.Printf("[executor] task %s: recording start: %v", e.task.Name(), err)
		}

	case evalprotocol.TypeTaskTokenUsageUpdate:
		var msg evalprotocol.TaskTokenUsageMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("[executor] task %s: invalid token usage: %v", e.task.Name(), err)
			break
		}
		e.applyUsage(msg.Usage)
		e.persistMetrics()

	case evalprotocol.TypeTaskToolFailed:
		var msg evalprotocol.TaskToolFailedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("[executor] task %s: invalid tool failure: %v", e.task.Name(), err)
			break
		}
		e.metrics.RecordToolFailure(msg.Tool)
		e.persistMetrics()

	case evalprotocol.TypeTaskCompleted:
		var msg evalprotocol.TaskCompletedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("[executor] task %s: invalid completion: %v", e.task.Name(), err)
		} else {
			e.applyUsage(msg.Usage)
			e.metrics.DurationMs = msg.DurationMs
			if len(msg.ToolUsage) > 0 {
				e.metrics.ToolUsage = msg.ToolUsage
			}
			e.persistMetrics()
		}
		e.relay(env)
		return true, false

	case evalprotocol.TypeTaskAborted:
		e.relay(env)
		return true, true

	case evalprotocol.TypeMessage:
		// High-frequency delta; persisted nowhere, relayed nowhere

	case evalprotocol.TypeTaskModeSwitched,
		evalprotocol.TypeTaskPaused,
		evalprotocol.TypeTaskUnpaused,
		evalprotocol.TypeTaskAskResponded,
		evalprotocol.TypeTaskSpawned:
		// Lifecycle chatter; relay only

	case evalprotocol.TypeTaskContextConfirmation:
		// Late duplicate; the handshake already settled

	default:
		log.Printf("[executor] task %s: unknown message type %q", e.task.Name(), env.Type)
		return false, false
	}

	if !evalprotocol.IsHighFrequency(env.Type) && env.Type != evalprotocol.TypeTaskContextConfirmation {
		e.relay(env)
	}
	return false, false
}

// cancelTask attempts cooperative cancellation, then waits out the grace
// period. The task is marked finished regardless of acknowledgment.
func (e *Executor) cancelTask(client *evalserver.Client) {
	if err := e.server.Send(client.ID, evalprotocol.TypeCancelTask, evalprotocol.CancelTaskMessage{
		TaskID: e.externalID,
	}); err != nil {
		log.Printf("[executor] task %s: sending cancel: %v", e.task.Name(), err)
	}

	timer := time.NewTimer(e.config.CancelGrace)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case env, ok := <-client.Events():
			if !ok {
				return
			}
			if evalprotocol.IsTerminal(env.Type) {
				return
			}
		}
	}
}

// closeTask asks the host to shut down and waits briefly for a voluntary
// exit. The deferred hard kill in Run makes this best effort only.
func (e *Executor) closeTask(client *evalserver.Client) {
	if err := e.server.Send(client.ID, evalprotocol.TypeCloseTask, evalprotocol.CloseTaskMessage{
		TaskID: e.externalID,
	}); err != nil {
		log.Printf("[executor] task %s: sending close: %v", e.task.Name(), err)
		return
	}

	timer := time.NewTimer(e.config.CloseGrace)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case _, ok := <-client.Events():
			if !ok {
				return // voluntary exit
			}
		}
	}
}

// score runs the language's unit tests against the exercise directory and
// broadcasts the eval verdict
func (e *Executor) score(ctx context.Context) bool {
	outcome, err := e.tests.Run(ctx, e.task.Language, e.workdir)
	if err != nil {
		log.Printf("[executor] task %s: unit tests: %v", e.task.Name(), err)
		return false
	}

	passed := outcome.Passed()
	verdict := evalprotocol.TypeEvalFail
	if passed {
		verdict = evalprotocol.TypeEvalPass
	}
	e.server.Hub().Broadcast(evalprotocol.Envelope{
		Type:   verdict,
		Origin: evalprotocol.OriginServer,
		Data: evalprotocol.EvalResultMessage{
			TaskID:   e.externalID,
			Language: e.task.Language,
			Exercise: e.task.Exercise,
		},
	})
	return passed
}

func (e *Executor) applyUsage(u evalprotocol.TokenUsage) {
	e.metrics.TokensIn = u.TokensIn
	e.metrics.TokensOut = u.TokensOut
	e.metrics.TokensContext = u.ContextTokens
	e.metrics.CacheWrites = u.CacheWrites
	e.metrics.CacheReads = u.CacheReads
	e.metrics.CostUSD = u.CostUSD
}

func (e *Executor) persistMetrics() {
	if err := e.store.UpsertTaskMetrics(&e.metrics); err != nil {
		log.Printf("[executor] task %s: persisting metrics: %v", e.task.Name(), err)
	}
}

// relay publishes an event to the run's broadcast hub
func (e *Executor) relay(env evalprotocol.EnvelopeRaw) {
	e.server.Hub().Broadcast(evalprotocol.Envelope{
		Type:          env.Type,
		Origin:        env.Origin,
		RelayClientID: env.RelayClientID,
		Data:          json.RawMessage(env.Data),
	})
}

// finalize writes the task's single terminal record. Idempotent: only the
// first call takes effect.
func (e *Executor) finalize(outcome domain.Outcome) {
	if e.finalized {
		return
	}
	e.finalized = true
	if err := e.store.UpdateTaskFinished(e.task.ID, outcome, time.Now()); err != nil {
		log.Printf("[executor] task %s: finalizing: %v", e.task.Name(), err)
	}
}
