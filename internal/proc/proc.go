// Package proc spawns external processes with live output streams and tracks
// them by session so they can be stopped from elsewhere.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultGrace is how long Stop waits after SIGTERM before sending SIGKILL.
const DefaultGrace = 5 * time.Second

// Spec describes a process to start.
type Spec struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string // added on top of the current environment
	Timeout time.Duration     // zero means no ceiling
	Grace   time.Duration     // SIGTERM→SIGKILL delay; DefaultGrace when zero
}

// ExitStatus is the final state of a process.
type ExitStatus struct {
	Code     int    `json:"code"`
	Signal   string `json:"signal,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Process is a running child. Stdout and Stderr must be drained before Wait
// is called.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (ExitStatus, error)
	Stop(grace time.Duration) error
	PID() int
}

// Spawner starts processes. Tests substitute a double.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// ExecSpawner runs real processes via os/exec in their own process group.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+spec.Env[k])
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	grace := spec.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	p := &execProcess{cmd: cmd, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		p.pgid = pgid
	} else {
		p.pgid = cmd.Process.Pid
	}

	go p.watch(ctx, spec.Timeout, grace)
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	stdout   io.Reader
	stderr   io.Reader
	pgid     int
	done     chan struct{}
	waitOnce sync.Once
	status   ExitStatus
	err      error
	timedOut atomic.Bool
}

// watch stops the process on timeout or context cancellation.
func (p *execProcess) watch(ctx context.Context, timeout, grace time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-expired:
		p.timedOut.Store(true)
		_ = p.Stop(grace)
	case <-ctx.Done():
		_ = p.Stop(grace)
	case <-p.done:
	}
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) PID() int          { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (ExitStatus, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		close(p.done)
		p.status = ExitStatus{Code: 0, TimedOut: p.timedOut.Load()}
		var ee *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &ee):
			p.status.Code = ee.ExitCode()
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				p.status.Signal = ws.Signal().String()
			}
		default:
			p.status.Code = -1
			p.err = err
		}
	})
	return p.status, p.err
}

// Stop sends SIGTERM to the process group and SIGKILL if it is still alive
// after grace.
func (p *execProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := syscall.Kill(-p.pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = syscall.Kill(-p.pgid, syscall.SIGKILL)
	}
	return nil
}
