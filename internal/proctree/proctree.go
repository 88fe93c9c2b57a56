// Package proctree terminates whole process trees. Toolchains invoked by
// the unit-test runner fork worker processes; killing only the top-level
// command would leak orphans, so descendants are enumerated and terminated
// first, with a process-group kill as the conservative fallback.
package proctree

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Killer enumerates and terminates processes. Abstracted so tests and
// platforms without descendant enumeration can substitute behavior.
type Killer interface {
	// DescendantsOf returns all live descendant pids of pid, children first
	// is not guaranteed; callers terminate them before the root.
	DescendantsOf(pid int) ([]int, error)
	// Terminate forcibly kills a single process
	Terminate(pid int) error
}

// System is the default Killer backed by ps(1) and SIGKILL
type System struct{}

// DescendantsOf walks the pid/ppid table from ps output
func (System) DescendantsOf(pid int) ([]int, error) {
	out, err := exec.Command("ps", "-eo", "pid=,ppid=").Output()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	children := make(map[int][]int)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		child, err1 := strconv.Atoi(fields[0])
		parent, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		children[parent] = append(children[parent], child)
	}

	var descendants []int
	queue := []int{pid}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range children[p] {
			descendants = append(descendants, c)
			queue = append(queue, c)
		}
	}
	return descendants, nil
}

// Terminate sends SIGKILL to a single process
func (System) Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// KillTree terminates pid and all its descendants using k. When descendant
// enumeration fails it falls back to killing pid's process group, which
// covers children that did not change their group.
func KillTree(k Killer, pid int) error {
	descendants, err := k.DescendantsOf(pid)
	if err != nil {
		// Conservative fallback: nuke the whole group
		if gerr := syscall.Kill(-pid, syscall.SIGKILL); gerr != nil {
			return fmt.Errorf("descendant enumeration failed (%v) and group kill failed: %w", err, gerr)
		}
		return nil
	}

	for _, d := range descendants {
		k.Terminate(d) // best effort; the process may already be gone
	}
	return k.Terminate(pid)
}
