// Package runner schedules a batch of exercise evaluations: it creates the
// run and its tasks, brings up the per-run IPC server, and drives one
// executor per task under a concurrency cap.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-eval-harness/internal/bridge"
	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalserver"
	"github.com/hochfrequenz/claude-eval-harness/internal/executor"
	"github.com/hochfrequenz/claude-eval-harness/internal/exercises"
	"github.com/hochfrequenz/claude-eval-harness/internal/unittest"
)

// Config configures a Runner
type Config struct {
	Concurrency int           // max tasks in flight; min 1
	Stagger     time.Duration // delay between consecutive task launches
	Server      evalserver.Config
	Executor    executor.Config
}

// Store is the persistence surface the scheduler and its executors need.
// *evalstore.Store satisfies it.
type Store interface {
	CreateRun(run *domain.Run) error
	CreateTask(task *domain.Task) error
	FinishRun(id int64, passed, failed int) error
	UpdateTaskStarted(id int64, at time.Time) error
	UpdateTaskFinished(id int64, outcome domain.Outcome, at time.Time) error
	UpsertTaskMetrics(m *domain.TaskMetrics) error
}

// Selection names one exercise to evaluate
type Selection struct {
	Language string
	Exercise string
}

// Summary is the settled result of a whole run
type Summary struct {
	RunID    int64
	Passed   int
	Failed   int
	Duration time.Duration
}

// Runner schedules evaluation runs
type Runner struct {
	config   Config
	store    Store
	source   *exercises.Source
	bridge   *bridge.Bridge
	launcher executor.Launcher
	tests    *unittest.Runner
}

// New creates a Runner
func New(config Config, store Store, source *exercises.Source, br *bridge.Bridge,
	launcher executor.Launcher, tests *unittest.Runner) *Runner {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Runner{
		config:   config,
		store:    store,
		source:   source,
		bridge:   br,
		launcher: launcher,
		tests:    tests,
	}
}

// ExpandSelections resolves languages to their full exercise lists. An entry
// with an empty Exercise selects every exercise of its language.
func (r *Runner) ExpandSelections(selections []Selection) ([]Selection, error) {
	var expanded []Selection
	for _, sel := range selections {
		if sel.Exercise != "" {
			expanded = append(expanded, sel)
			continue
		}
		names, err := r.source.Exercises(sel.Language)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			expanded = append(expanded, Selection{Language: sel.Language, Exercise: name})
		}
	}
	return expanded, nil
}

// Run executes one evaluation run to completion. Individual task failures
// are contained; the run only errors on setup problems.
func (r *Runner) Run(ctx context.Context, run *domain.Run, selections []Selection) (*Summary, error) {
	selections, err := r.ExpandSelections(selections)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("no exercises selected")
	}

	// One IPC server per run; every host process of this run attaches here
	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	server := evalserver.New(r.config.Server)
	if err := server.Start(serverCtx); err != nil {
		return nil, err
	}
	defer server.Stop()

	run.Concurrency = r.config.Concurrency
	run.ServerAddr = server.Addr()
	if err := r.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(selections))
	for _, sel := range selections {
		task := &domain.Task{RunID: run.ID, Language: sel.Language, Exercise: sel.Exercise}
		if err := r.store.CreateTask(task); err != nil {
			return nil, fmt.Errorf("creating task %s/%s: %w", sel.Language, sel.Exercise, err)
		}
		tasks = append(tasks, task)
	}

	log.Printf("[runner] run %d: %d tasks, concurrency %d", run.ID, len(tasks), r.config.Concurrency)
	started := time.Now()

	var mu sync.Mutex
	passed, failed := 0, 0

	g := new(errgroup.Group)
	g.SetLimit(r.config.Concurrency)
	for i, task := range tasks {
		if i > 0 && r.config.Stagger > 0 {
			time.Sleep(r.config.Stagger)
		}
		task := task
		g.Go(func() error {
			ok := r.runTask(ctx, run, task, server)
			mu.Lock()
			if ok {
				passed++
			} else {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	run.Passed, run.Failed = passed, failed
	if err := r.store.FinishRun(run.ID, passed, failed); err != nil {
		return nil, fmt.Errorf("finishing run: %w", err)
	}

	summary := &Summary{RunID: run.ID, Passed: passed, Failed: failed, Duration: time.Since(started)}
	log.Printf("[runner] run %d finished: %d passed, %d failed in %s",
		run.ID, passed, failed, summary.Duration.Round(time.Second))
	return summary, nil
}

// runTask drives one task through an executor and reports whether it passed
func (r *Runner) runTask(ctx context.Context, run *domain.Run, task *domain.Task, server *evalserver.Server) bool {
	prompt, err := r.source.Prompt(task.Language)
	if err != nil {
		log.Printf("[runner] task %s: %v", task.Name(), err)
		if err := r.store.UpdateTaskFinished(task.ID, domain.OutcomeFailed, time.Now()); err != nil {
			log.Printf("[runner] task %s: finalizing: %v", task.Name(), err)
		}
		return false
	}

	cfg := r.config.Executor
	if prompt.Meta.TimeoutSecs > 0 {
		cfg.TaskTimeout = time.Duration(prompt.Meta.TimeoutSecs) * time.Second
	}

	exec := executor.New(task, run, cfg, server, r.bridge, r.store, r.launcher,
		prompt.Text, r.source.Dir(task.Language, task.Exercise), r.tests)
	result := exec.Run(ctx)
	log.Printf("[runner] task %s settled: state=%s success=%t", task.Name(), result.State, result.Success)
	return result.Success
}
