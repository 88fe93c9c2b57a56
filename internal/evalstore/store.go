// Package evalstore provides SQLite-backed persistence for runs, tasks,
// metrics and attributed telemetry spans.
package evalstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed evaluation persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// The scheduler and span processor write concurrently; serialize on one
	// connection rather than fighting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run and fills in its id
func (s *Store) CreateRun(run *domain.Run) error {
	configJSON, err := json.Marshal(run.AgentConfig)
	if err != nil {
		return err
	}

	run.Status = domain.RunRunning
	run.CreatedAt = time.Now()
	res, err := s.db.Exec(`
		INSERT INTO runs (model, concurrency, server_addr, agent_config, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.Model, run.Concurrency, run.ServerAddr, string(configJSON), string(run.Status), run.CreatedAt)
	if err != nil {
		return err
	}

	run.ID, err = res.LastInsertId()
	return err
}

// GetRun retrieves a run by id
func (s *Store) GetRun(id int64) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, model, concurrency, server_addr, agent_config, status, passed, failed, created_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(limit int) ([]*domain.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, model, concurrency, server_addr, agent_config, status, passed, failed, created_at, finished_at
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FinishRun records final pass/fail counters and marks the run finished
func (s *Store) FinishRun(id int64, passed, failed int) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, passed = ?, failed = ?, finished_at = ? WHERE id = ?
	`, string(domain.RunFinished), passed, failed, time.Now(), id)
	return err
}

// CreateTask inserts a task and fills in its id
func (s *Store) CreateTask(task *domain.Task) error {
	task.Outcome = domain.OutcomeUnknown
	task.CreatedAt = time.Now()
	res, err := s.db.Exec(`
		INSERT INTO tasks (run_id, language, exercise, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, task.RunID, task.Language, task.Exercise, string(task.Outcome), task.CreatedAt)
	if err != nil {
		return err
	}

	task.ID, err = res.LastInsertId()
	return err
}

// GetTask retrieves a task by id
func (s *Store) GetTask(id int64) (*domain.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, language, exercise, outcome, started_at, finished_at, created_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListTasks returns all tasks for a run in creation order
func (s *Store) ListTasks(runID int64) ([]*domain.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, language, exercise, outcome, started_at, finished_at, created_at
		FROM tasks WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStarted records the start timestamp
func (s *Store) UpdateTaskStarted(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE tasks SET started_at = ? WHERE id = ?`, at, id)
	return err
}

// UpdateTaskFinished records the finish timestamp and tri-state outcome.
// Finalization is idempotent: a second call on an already-finished task
// leaves the first finish timestamp in place.
func (s *Store) UpdateTaskFinished(id int64, outcome domain.Outcome, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET outcome = ?, finished_at = COALESCE(finished_at, ?) WHERE id = ?
	`, string(outcome), at, id)
	return err
}

// UpsertTaskMetrics inserts or replaces the metrics row for a task
func (s *Store) UpsertTaskMetrics(m *domain.TaskMetrics) error {
	toolJSON, err := json.Marshal(m.ToolUsage)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO task_metrics (task_id, duration_ms, tokens_in, tokens_out, tokens_context, cache_writes, cache_reads, cost_usd, tool_usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			tokens_in = excluded.tokens_in,
			tokens_out = excluded.tokens_out,
			tokens_context = excluded.tokens_context,
			cache_writes = excluded.cache_writes,
			cache_reads = excluded.cache_reads,
			cost_usd = excluded.cost_usd,
			tool_usage = excluded.tool_usage
	`, m.TaskID, m.DurationMs, m.TokensIn, m.TokensOut, m.TokensContext,
		m.CacheWrites, m.CacheReads, m.CostUSD, string(toolJSON))
	return err
}

// GetTaskMetrics retrieves the metrics row for a task, or nil if none
func (s *Store) GetTaskMetrics(taskID int64) (*domain.TaskMetrics, error) {
	row := s.db.QueryRow(`
		SELECT task_id, duration_ms, tokens_in, tokens_out, tokens_context, cache_writes, cache_reads, cost_usd, tool_usage
		FROM task_metrics WHERE task_id = ?
	`, taskID)

	var m domain.TaskMetrics
	var toolJSON sql.NullString
	err := row.Scan(&m.TaskID, &m.DurationMs, &m.TokensIn, &m.TokensOut, &m.TokensContext,
		&m.CacheWrites, &m.CacheReads, &m.CostUSD, &toolJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if toolJSON.Valid && toolJSON.String != "" && toolJSON.String != "null" {
		if err := json.Unmarshal([]byte(toolJSON.String), &m.ToolUsage); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// InsertSpan records an attributed telemetry span for a task
func (s *Store) InsertSpan(taskID int64, name string, startedAt, endedAt time.Time, attributes map[string]string) error {
	attrJSON, err := json.Marshal(attributes)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO spans (task_id, name, started_at, ended_at, attributes)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, name, startedAt, endedAt, string(attrJSON))
	return err
}

// CountSpans returns the number of spans attributed to a task
func (s *Store) CountSpans(taskID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM spans WHERE task_id = ?`, taskID).Scan(&n)
	return n, err
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scannable) (*domain.Run, error) {
	var run domain.Run
	var status, configJSON string
	var serverAddr sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Model, &run.Concurrency, &serverAddr, &configJSON,
		&status, &run.Passed, &run.Failed, &run.CreatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.ServerAddr = serverAddr.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &run.AgentConfig); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func scanTask(row scannable) (*domain.Task, error) {
	var task domain.Task
	var outcome string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&task.ID, &task.RunID, &task.Language, &task.Exercise,
		&outcome, &startedAt, &finishedAt, &task.CreatedAt)
	if err != nil {
		return nil, err
	}

	task.Outcome = domain.Outcome(outcome)
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return &task, nil
}
