package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-eval-harness/internal/bridge"
	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalprotocol"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalserver"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalstore"
	"github.com/hochfrequenz/claude-eval-harness/internal/executor"
	"github.com/hochfrequenz/claude-eval-harness/internal/exercises"
	"github.com/hochfrequenz/claude-eval-harness/internal/unittest"
)

type instantProcess struct {
	once   sync.Once
	done   chan struct{}
	onKill func()
}

func (p *instantProcess) Pid() int { return 1 }
func (p *instantProcess) Kill() error {
	p.once.Do(func() {
		close(p.done)
		if p.onKill != nil {
			p.onKill()
		}
	})
	return nil
}

// instantLauncher dials the run's server with a host that confirms the
// handshake and completes the task immediately. connect=false simulates a
// host binary that never comes up; failNth refuses to connect for exactly
// one launch (1-based). Launches are counted as active until the executor
// kills them, so peak records how many tasks were ever in flight at once.
type instantLauncher struct {
	connect bool
	failNth int

	mu       sync.Mutex
	launches int
	active   int
	peak     int
}

func (l *instantLauncher) Launch(ctx context.Context, serverAddr, workdir string) (executor.HostProcess, error) {
	l.mu.Lock()
	l.launches++
	n := l.launches
	l.active++
	if l.active > l.peak {
		l.peak = l.active
	}
	l.mu.Unlock()

	proc := &instantProcess{done: make(chan struct{}), onKill: func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
	}}
	if !l.connect || n == l.failNth {
		return proc, nil
	}

	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(serverAddr, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var extID string
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env evalprotocol.EnvelopeRaw
			if err := json.Unmarshal(frame, &env); err != nil {
				return
			}

			switch env.Type {
			case evalprotocol.TypeSetTaskContext:
				var msg evalprotocol.SetTaskContextMessage
				if err := json.Unmarshal(env.Data, &msg); err != nil {
					return
				}
				extID = msg.ExternalID
				reply, _ := evalprotocol.MarshalEvent(evalprotocol.TypeTaskContextConfirmation, "",
					evalprotocol.TaskContextConfirmationMessage{TaskID: msg.TaskID, ExternalID: extID, Success: true})
				conn.WriteMessage(websocket.TextMessage, reply)

			case evalprotocol.TypeStartNewTask:
				started, _ := evalprotocol.MarshalEvent(evalprotocol.TypeTaskStarted, "",
					evalprotocol.TaskEventMessage{TaskID: extID})
				conn.WriteMessage(websocket.TextMessage, started)
				completed, _ := evalprotocol.MarshalEvent(evalprotocol.TypeTaskCompleted, "",
					evalprotocol.TaskCompletedMessage{
						TaskID:     extID,
						Usage:      evalprotocol.TokenUsage{TokensIn: 10, TokensOut: 5},
						DurationMs: 50,
					})
				conn.WriteMessage(websocket.TextMessage, completed)

			case evalprotocol.TypeCloseTask:
				return
			}
		}
	}()
	return proc, nil
}

func writeExercises(t *testing.T, languages map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "prompts"), 0755); err != nil {
		t.Fatal(err)
	}
	for lang, names := range languages {
		for _, name := range names {
			if err := os.MkdirAll(filepath.Join(root, lang, name), 0755); err != nil {
				t.Fatal(err)
			}
		}
		prompt := "Solve the exercise.\n"
		if err := os.WriteFile(filepath.Join(root, "prompts", lang+".md"), []byte(prompt), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestRunner(t *testing.T, cfg Config, launcher executor.Launcher, root string) (*Runner, *evalstore.Store) {
	t.Helper()

	store, err := evalstore.New(filepath.Join(t.TempDir(), "evals.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	source, err := exercises.NewSource(root)
	if err != nil {
		t.Fatal(err)
	}

	tests := unittest.NewRunner(map[string][]string{"go": {"true"}}, 0)
	return New(cfg, store, source, bridge.New(), launcher, tests), store
}

func fastConfig() Config {
	return Config{
		Concurrency: 2,
		Server:      evalserver.Config{Port: 0},
		Executor: executor.Config{
			ReadyTimeout:     2 * time.Second,
			HandshakeTimeout: 2 * time.Second,
			TaskTimeout:      5 * time.Second,
			CancelGrace:      100 * time.Millisecond,
			CloseGrace:       100 * time.Millisecond,
		},
	}
}

func TestRunner_Run(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"alpha", "beta", "gamma"}})
	r, store := newTestRunner(t, fastConfig(), &instantLauncher{connect: true}, root)

	run := &domain.Run{Model: "m", AgentConfig: domain.AgentConfig{Model: "m"}}
	summary, err := r.Run(context.Background(), run, []Selection{{Language: "go"}})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Passed != 3 || summary.Failed != 0 {
		t.Errorf("summary = %d passed, %d failed, want 3/0", summary.Passed, summary.Failed)
	}

	stored, err := store.GetRun(summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RunFinished {
		t.Errorf("run status = %q, want finished", stored.Status)
	}
	if stored.Passed != 3 {
		t.Errorf("stored passed = %d, want 3", stored.Passed)
	}
	if stored.ServerAddr == "" {
		t.Error("run should record its server address")
	}

	tasks, err := store.ListTasks(summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	for _, task := range tasks {
		if task.Outcome != domain.OutcomePassed {
			t.Errorf("task %s outcome = %q, want passed", task.Name(), task.Outcome)
		}
		metrics, err := store.GetTaskMetrics(task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if metrics == nil || metrics.TokensIn != 10 {
			t.Errorf("task %s metrics = %+v", task.Name(), metrics)
		}
	}
}

// A stuck host binary fails its tasks but never wedges the run
func TestRunner_HostNeverReady(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"alpha", "beta"}})
	cfg := fastConfig()
	cfg.Executor.ReadyTimeout = 200 * time.Millisecond
	r, store := newTestRunner(t, cfg, &instantLauncher{connect: false}, root)

	run := &domain.Run{Model: "m"}
	summary, err := r.Run(context.Background(), run, []Selection{{Language: "go"}})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Passed != 0 || summary.Failed != 2 {
		t.Errorf("summary = %d/%d, want 0 passed, 2 failed", summary.Passed, summary.Failed)
	}

	stored, err := store.GetRun(summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RunFinished {
		t.Errorf("run status = %q, want finished even when every task fails", stored.Status)
	}
}

// The in-flight task set never exceeds the configured concurrency
func TestRunner_ConcurrencyBound(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"a", "b", "c", "d", "e"}})
	launcher := &instantLauncher{connect: true}
	r, _ := newTestRunner(t, fastConfig(), launcher, root)

	run := &domain.Run{Model: "m"}
	summary, err := r.Run(context.Background(), run, []Selection{{Language: "go"}})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Passed != 5 || summary.Failed != 0 {
		t.Errorf("summary = %d/%d, want 5 passed, 0 failed", summary.Passed, summary.Failed)
	}

	launcher.mu.Lock()
	launches, peak := launcher.launches, launcher.peak
	launcher.mu.Unlock()
	if launches != 5 {
		t.Errorf("launched %d hosts, want 5", launches)
	}
	if peak > 2 {
		t.Errorf("peak in-flight tasks = %d, want at most 2", peak)
	}
}

// One stuck host fails its own task without affecting its siblings
func TestRunner_OneHostNeverReady(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"a", "b", "c", "d", "e"}})
	cfg := fastConfig()
	cfg.Executor.ReadyTimeout = 200 * time.Millisecond
	r, store := newTestRunner(t, cfg, &instantLauncher{connect: true, failNth: 3}, root)

	run := &domain.Run{Model: "m"}
	summary, err := r.Run(context.Background(), run, []Selection{{Language: "go"}})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Passed != 4 || summary.Failed != 1 {
		t.Errorf("summary = %d/%d, want 4 passed, 1 failed", summary.Passed, summary.Failed)
	}

	stored, err := store.GetRun(summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RunFinished {
		t.Errorf("run status = %q, want finished", stored.Status)
	}

	tasks, err := store.ListTasks(summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	passed, failed := 0, 0
	for _, task := range tasks {
		switch task.Outcome {
		case domain.OutcomePassed:
			passed++
		case domain.OutcomeFailed:
			failed++
		}
	}
	if passed != 4 || failed != 1 {
		t.Errorf("stored outcomes = %d passed, %d failed, want 4/1", passed, failed)
	}
}

func TestRunner_NoSelection(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"alpha"}})
	r, _ := newTestRunner(t, fastConfig(), &instantLauncher{connect: true}, root)

	if _, err := r.Run(context.Background(), &domain.Run{Model: "m"}, nil); err == nil {
		t.Error("a run with no selections should error")
	}
}

func TestRunner_ExpandSelections(t *testing.T) {
	root := writeExercises(t, map[string][]string{"go": {"alpha", "beta"}})
	r, _ := newTestRunner(t, fastConfig(), &instantLauncher{connect: true}, root)

	sels, err := r.ExpandSelections([]Selection{
		{Language: "go"},
		{Language: "python", Exercise: "anagram"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sels) != 3 {
		t.Fatalf("got %d selections, want 3", len(sels))
	}
	if sels[0].Exercise != "alpha" || sels[1].Exercise != "beta" {
		t.Errorf("expanded = %+v", sels)
	}
	if sels[2].Language != "python" || sels[2].Exercise != "anagram" {
		t.Errorf("explicit selection mangled: %+v", sels[2])
	}
}
