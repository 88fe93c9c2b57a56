// Package unittest scores finished exercises by running the language's
// unit-test commands in the exercise directory.
package unittest

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/hochfrequenz/claude-eval-harness/internal/proctree"
)

const outputTailBytes = 8 * 1024

// CommandResult records one command's execution
type CommandResult struct {
	Command  string
	ExitCode int
	Duration time.Duration
	TimedOut bool
	Skipped  bool   // never ran because an earlier command failed
	Output   string // combined stdout+stderr, tail only
}

// Outcome is the ordered sequence of command results for one task
type Outcome struct {
	Results []CommandResult
}

// Passed reports whether every command ran and exited zero
func (o *Outcome) Passed() bool {
	if len(o.Results) == 0 {
		return false
	}
	for _, r := range o.Results {
		if r.TimedOut || r.ExitCode != 0 {
			return false
		}
	}
	return true
}

// Runner executes per-language test command lists
type Runner struct {
	overrides map[string][]string
	timeout   time.Duration // per command
	killer    proctree.Killer
}

// NewRunner creates a Runner. overrides may be nil; timeout zero means the
// 2 minute default.
func NewRunner(overrides map[string][]string, timeout time.Duration) *Runner {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{
		overrides: overrides,
		timeout:   timeout,
		killer:    proctree.System{},
	}
}

// SetKiller replaces the process-tree killer (used by tests)
func (r *Runner) SetKiller(k proctree.Killer) {
	r.killer = k
}

// Run executes the language's commands in dir, in order, each with an
// independent timeout. The first non-zero exit or timeout short-circuits
// the remaining commands; those are still recorded as skipped failures so
// the outcome always covers the full command list.
func (r *Runner) Run(ctx context.Context, language, dir string) (*Outcome, error) {
	commands := r.Commands(language)
	if len(commands) == 0 {
		return nil, fmt.Errorf("no unit-test commands for language %q", language)
	}

	outcome := &Outcome{}
	for i, command := range commands {
		result := r.runCommand(ctx, command, dir)
		outcome.Results = append(outcome.Results, result)
		if result.TimedOut || result.ExitCode != 0 {
			for _, skipped := range commands[i+1:] {
				outcome.Results = append(outcome.Results, CommandResult{
					Command:  skipped,
					ExitCode: -1,
					Skipped:  true,
					Output:   "skipped: previous command failed",
				})
			}
			break
		}
	}
	return outcome, nil
}

func (r *Runner) runCommand(ctx context.Context, command, dir string) CommandResult {
	start := time.Now()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	// Own process group so the whole tree can be killed on timeout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return CommandResult{
			Command:  command,
			ExitCode: -1,
			Duration: time.Since(start),
			Output:   fmt.Sprintf("starting command: %v", err),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		timedOut = true
	case <-timer.C:
		timedOut = true
	}

	if timedOut {
		// Kill descendants first so forked workers don't outlive the root
		if err := proctree.KillTree(r.killer, cmd.Process.Pid); err != nil {
			log.Printf("[unittest] killing process tree for %q: %v", command, err)
		}
		<-done // Wait() returns once the kill lands
	}

	exitCode := 0
	if timedOut {
		exitCode = -1
	} else if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return CommandResult{
		Command:  command,
		ExitCode: exitCode,
		Duration: time.Since(start),
		TimedOut: timedOut,
		Output:   tail(output.Bytes()),
	}
}

func tail(b []byte) string {
	if len(b) <= outputTailBytes {
		return string(b)
	}
	return string(b[len(b)-outputTailBytes:])
}

// SortedLanguages returns the supported languages in stable order
func SortedLanguages() []string {
	langs := Languages()
	sort.Strings(langs)
	return langs
}
