package proctree

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

type fakeKiller struct {
	descendants map[int][]int
	killed      []int
	enumErr     error
}

func (f *fakeKiller) DescendantsOf(pid int) ([]int, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return f.descendants[pid], nil
}

func (f *fakeKiller) Terminate(pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

func TestKillTree_DescendantsBeforeRoot(t *testing.T) {
	k := &fakeKiller{descendants: map[int][]int{100: {101, 102}}}

	if err := KillTree(k, 100); err != nil {
		t.Fatal(err)
	}

	if len(k.killed) != 3 {
		t.Fatalf("killed %v, want 3 pids", k.killed)
	}
	// The root dies last so it cannot respawn workers mid-kill
	if k.killed[2] != 100 {
		t.Errorf("kill order = %v, want root last", k.killed)
	}
}

func TestSystem_DescendantsOf(t *testing.T) {
	// A shell with one sleeping child gives a two-process tree
	cmd := exec.Command("sh", "-c", "sleep 10 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
	}()

	// The child may take a moment to fork
	var pids []int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		pids, err = System{}.DescendantsOf(cmd.Process.Pid)
		if err != nil {
			t.Fatal(err)
		}
		if len(pids) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(pids) == 0 {
		t.Fatal("expected at least one descendant")
	}
}

func TestKillTree_System(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 10 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond) // let the child fork
	if err := KillTree(System{}, cmd.Process.Pid); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("process tree survived KillTree")
	}
}
