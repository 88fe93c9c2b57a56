package unittest

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestOutcome_Passed(t *testing.T) {
	var empty Outcome
	if empty.Passed() {
		t.Error("an empty outcome must not pass")
	}

	ok := Outcome{Results: []CommandResult{{ExitCode: 0}, {ExitCode: 0}}}
	if !ok.Passed() {
		t.Error("all-zero exits should pass")
	}

	failed := Outcome{Results: []CommandResult{{ExitCode: 0}, {ExitCode: 1}}}
	if failed.Passed() {
		t.Error("non-zero exit should fail")
	}

	timedOut := Outcome{Results: []CommandResult{{ExitCode: 0, TimedOut: true}}}
	if timedOut.Passed() {
		t.Error("timeout should fail")
	}
}

func TestRunner_Commands(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"make check"}}, 0)

	if got := r.Commands("go"); len(got) != 1 || got[0] != "make check" {
		t.Errorf("override not honored: %v", got)
	}
	if got := r.Commands("python"); len(got) == 0 {
		t.Error("default command list missing for python")
	}
	if got := r.Commands("cobol"); got != nil {
		t.Errorf("unknown language should have no commands, got %v", got)
	}
}

func TestSortedLanguages(t *testing.T) {
	langs := SortedLanguages()
	if !sort.StringsAreSorted(langs) {
		t.Errorf("languages not sorted: %v", langs)
	}
	found := false
	for _, l := range langs {
		if l == "go" {
			found = true
		}
	}
	if !found {
		t.Errorf("go missing from %v", langs)
	}
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"echo building", "true"}}, 0)

	outcome, err := r.Run(context.Background(), "go", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Passed() {
		t.Errorf("outcome should pass: %+v", outcome.Results)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(outcome.Results))
	}
	if !strings.Contains(outcome.Results[0].Output, "building") {
		t.Errorf("output not captured: %q", outcome.Results[0].Output)
	}
}

func TestRunner_RunShortCircuits(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"echo one", "false", "echo never"}}, 0)

	outcome, err := r.Run(context.Background(), "go", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Passed() {
		t.Error("outcome should fail")
	}
	if len(outcome.Results) != 3 {
		t.Fatalf("got %d results, want one per command", len(outcome.Results))
	}
	if outcome.Results[1].ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", outcome.Results[1].ExitCode)
	}
	third := outcome.Results[2]
	if !third.Skipped || third.ExitCode == 0 {
		t.Errorf("third command should be recorded as a skipped failure, got %+v", third)
	}
	if third.Command != "echo never" {
		t.Errorf("skipped Command = %q, want %q", third.Command, "echo never")
	}
}

// A timeout short-circuits the rest of the list the same way a failure does
func TestRunner_TimeoutSkipsRemaining(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"sleep 30", "echo never"}}, 100*time.Millisecond)

	outcome, err := r.Run(context.Background(), "go", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("got %d results, want one per command", len(outcome.Results))
	}
	if !outcome.Results[0].TimedOut {
		t.Errorf("first result = %+v, want TimedOut", outcome.Results[0])
	}
	if !outcome.Results[1].Skipped {
		t.Errorf("second result = %+v, want Skipped", outcome.Results[1])
	}
}

func TestRunner_RunUnknownLanguage(t *testing.T) {
	r := NewRunner(nil, 0)
	if _, err := r.Run(context.Background(), "cobol", t.TempDir()); err == nil {
		t.Error("unknown language should error")
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"sleep 30"}}, 100*time.Millisecond)

	start := time.Now()
	outcome, err := r.Run(context.Background(), "go", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout did not cut the command off, took %v", elapsed)
	}
	if outcome.Passed() {
		t.Error("timed-out outcome should fail")
	}
	if !outcome.Results[0].TimedOut {
		t.Errorf("result = %+v, want TimedOut", outcome.Results[0])
	}
}

// A timed-out command's forked children must die with it
func TestRunner_TimeoutKillsDescendants(t *testing.T) {
	r := NewRunner(map[string][]string{"go": {"sh -c 'sleep 30' & wait"}}, 100*time.Millisecond)

	start := time.Now()
	outcome, err := r.Run(context.Background(), "go", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("descendants survived the kill, took %v", elapsed)
	}
	if !outcome.Results[0].TimedOut {
		t.Errorf("result = %+v, want TimedOut", outcome.Results[0])
	}
}

func TestTail(t *testing.T) {
	short := []byte("hello")
	if got := tail(short); got != "hello" {
		t.Errorf("tail(short) = %q", got)
	}

	long := make([]byte, outputTailBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	if got := tail(long); len(got) != outputTailBytes {
		t.Errorf("tail(long) length = %d, want %d", len(got), outputTailBytes)
	}
}
