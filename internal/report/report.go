// Package report renders run summaries: per-task outcomes, token and cost
// tallies, and span counts.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
)

// Store is the read surface a report needs. *evalstore.Store satisfies it.
type Store interface {
	GetRun(id int64) (*domain.Run, error)
	ListTasks(runID int64) ([]*domain.Task, error)
	GetTaskMetrics(taskID int64) (*domain.TaskMetrics, error)
	CountSpans(taskID int64) (int, error)
}

// Row is one task's line in the report
type Row struct {
	Task    *domain.Task
	Metrics *domain.TaskMetrics
	Spans   int
}

// Totals aggregates usage across a run
type Totals struct {
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Report is a fully resolved run summary
type Report struct {
	Run    *domain.Run
	Rows   []Row
	Totals Totals
}

// Build assembles the report for a run
func Build(store Store, runID int64) (*Report, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", runID, err)
	}

	tasks, err := store.ListTasks(runID)
	if err != nil {
		return nil, err
	}

	rep := &Report{Run: run}
	for _, task := range tasks {
		metrics, err := store.GetTaskMetrics(task.ID)
		if err != nil {
			return nil, err
		}
		spans, err := store.CountSpans(task.ID)
		if err != nil {
			return nil, err
		}
		rep.Rows = append(rep.Rows, Row{Task: task, Metrics: metrics, Spans: spans})
		if metrics != nil {
			rep.Totals.TokensIn += metrics.TokensIn
			rep.Totals.TokensOut += metrics.TokensOut
			rep.Totals.CostUSD += metrics.CostUSD
		}
	}
	return rep, nil
}

// PassRate returns the fraction of tasks that passed, 0 for an empty run
func (r *Report) PassRate() float64 {
	if len(r.Rows) == 0 {
		return 0
	}
	passed := 0
	for _, row := range r.Rows {
		if row.Task.Outcome == domain.OutcomePassed {
			passed++
		}
	}
	return float64(passed) / float64(len(r.Rows))
}

// Render writes the report as an aligned text table
func (r *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "Run %d  model=%s  status=%s  started %s\n",
		r.Run.ID, r.Run.Model, r.Run.Status, humanize.Time(r.Run.CreatedAt))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tOUTCOME\tDURATION\tTOKENS IN\tTOKENS OUT\tCOST\tSPANS")
	for _, row := range r.Rows {
		duration := "-"
		if d := row.Task.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		tokensIn, tokensOut, cost := "-", "-", "-"
		if row.Metrics != nil {
			tokensIn = humanize.Comma(int64(row.Metrics.TokensIn))
			tokensOut = humanize.Comma(int64(row.Metrics.TokensOut))
			cost = fmt.Sprintf("$%.4f", row.Metrics.CostUSD)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			row.Task.Name(), row.Task.Outcome, duration, tokensIn, tokensOut, cost, row.Spans)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d/%d passed (%.0f%%)  tokens in %s, out %s  total cost $%.4f\n",
		r.Run.Passed, len(r.Rows), r.PassRate()*100,
		humanize.Comma(int64(r.Totals.TokensIn)), humanize.Comma(int64(r.Totals.TokensOut)),
		r.Totals.CostUSD)
	return nil
}
