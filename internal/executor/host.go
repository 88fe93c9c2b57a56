package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
)

// EnvServerAddr is the single environment variable handed to a spawned
// host process. Nothing else about the host's internals is assumed beyond
// adherence to the message protocol.
const EnvServerAddr = "EVAL_SERVER_ADDRESS"

// HostProcess is a running host-process instance
type HostProcess interface {
	Pid() int
	// Kill forcibly terminates the process and its group. Best effort;
	// errors are for logging only.
	Kill() error
}

// Launcher spawns isolated host-process instances
type Launcher interface {
	Launch(ctx context.Context, serverAddr, workdir string) (HostProcess, error)
}

// CommandLauncher launches the host process as a configured command line
type CommandLauncher struct {
	Command []string // argv; the host binary and its fixed arguments
	Env     []string // extra environment entries, KEY=VALUE
}

// Launch starts one host-process instance with the server address injected
// via environment
func (l *CommandLauncher) Launch(ctx context.Context, serverAddr, workdir string) (HostProcess, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("no host command configured")
	}

	cmd := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", EnvServerAddr, serverAddr))
	// Own process group so teardown can kill the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting host process: %w", err)
	}

	proc := &commandProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait() // reap; exit status is irrelevant, events carry outcome
		close(proc.done)
	}()

	log.Printf("[executor] host process started, pid=%d", cmd.Process.Pid)
	return proc, nil
}

type commandProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *commandProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *commandProcess) Kill() error {
	select {
	case <-p.done:
		return nil // already exited
	default:
	}

	// Group kill covers any children the host spawned
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
