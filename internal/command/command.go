// Package command runs ad hoc operator commands with streamed output and
// kill-by-session support. There is no shell: the line is split on whitespace
// and the binary must be allowlisted.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/metrics"
	"github.com/arencloud/depot/internal/proc"
	"github.com/arencloud/depot/internal/stream"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNotAllowed   = errors.New("command not allowed")
)

type Options struct {
	Allowlist []string
	Dir       string
	Timeout   time.Duration
	KillGrace time.Duration
}

type Executor struct {
	opts     Options
	allowed  map[string]bool
	spawner  proc.Spawner
	registry *proc.Registry
	log      logging.Logger
	metrics  *metrics.Recorder
	newID    func() string
}

func NewExecutor(opts Options, spawner proc.Spawner, registry *proc.Registry, log logging.Logger, m *metrics.Recorder) *Executor {
	if opts.KillGrace <= 0 {
		opts.KillGrace = proc.DefaultGrace
	}
	if registry == nil {
		registry = proc.NewRegistry()
	}
	if log == nil {
		log = logging.Nop()
	}
	allowed := make(map[string]bool, len(opts.Allowlist))
	for _, a := range opts.Allowlist {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = true
		}
	}
	return &Executor{
		opts:     opts,
		allowed:  allowed,
		spawner:  spawner,
		registry: registry,
		log:      log,
		metrics:  m,
		newID:    uuid.NewString,
	}
}

// Parse splits a command line and checks the binary against the allowlist.
func (e *Executor) Parse(line string) ([]string, error) {
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if filepath.Base(argv[0]) != argv[0] || !e.allowed[argv[0]] {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, argv[0])
	}
	return argv, nil
}

// Run executes line and streams session, command, output, exit and result
// events. The session token in the first event can be passed to Kill.
func (e *Executor) Run(ctx context.Context, line string, sink stream.Sink) error {
	argv, err := e.Parse(line)
	if err != nil {
		sink.Emit(stream.Result(false, err.Error(), nil))
		return err
	}
	session := e.newID()
	p, err := e.spawner.Spawn(ctx, proc.Spec{
		Name:    argv[0],
		Args:    argv[1:],
		Dir:     e.opts.Dir,
		Timeout: e.opts.Timeout,
		Grace:   e.opts.KillGrace,
	})
	if err != nil {
		e.metrics.Command(argv[0], stream.ResultError)
		sink.Emit(stream.Result(false, err.Error(), nil))
		return nil
	}
	e.registry.Add(session, p)
	defer e.registry.Remove(session)

	sink.Emit(stream.Event{Type: stream.TypeSession, Level: stream.LevelInfo, Message: session, Data: map[string]any{"session": session, "pid": p.PID()}})
	sink.Emit(stream.Event{Type: stream.TypeCommand, Level: stream.LevelCommand, Message: strings.Join(argv, " ")})
	e.log.Info("command started", "session", session, "command", argv[0])

	var mu sync.Mutex
	pump := func(r io.Reader, t stream.EventType, lvl stream.Level) func() error {
		return func() error {
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for sc.Scan() {
				mu.Lock()
				sink.Emit(stream.Event{Type: t, Level: lvl, Message: sc.Text()})
				mu.Unlock()
			}
			return sc.Err()
		}
	}
	var g errgroup.Group
	g.Go(pump(p.Stdout(), stream.TypeStdout, stream.LevelInfo))
	g.Go(pump(p.Stderr(), stream.TypeStderr, stream.LevelWarn))
	if err := g.Wait(); err != nil {
		e.log.Warn("reading command output", "session", session, "error", err)
	}

	status, err := p.Wait()
	if err != nil {
		e.metrics.Command(argv[0], stream.ResultError)
		sink.Emit(stream.Result(false, err.Error(), nil))
		return nil
	}
	ok := status.Code == 0 && !status.TimedOut
	lvl := stream.LevelInfo
	if !ok {
		lvl = stream.LevelWarn
	}
	msg := "Process exited with code " + strconv.Itoa(status.Code)
	if status.Signal != "" {
		msg += " (" + status.Signal + ")"
	}
	sink.Emit(stream.Event{Type: stream.TypeExit, Level: lvl, Message: msg, Data: status})

	result := stream.ResultError
	if ok {
		result = stream.ResultSuccess
	}
	e.metrics.Command(argv[0], result)
	e.log.Info("command finished", "session", session, "exitCode", status.Code, "signal", status.Signal)
	sink.Emit(stream.Result(ok, msg, map[string]any{"session": session, "exit": status}))
	return nil
}

// Kill stops the process behind session: SIGTERM, then SIGKILL after the
// configured grace period.
func (e *Executor) Kill(session string) error {
	if err := e.registry.Kill(session, e.opts.KillGrace); err != nil {
		return err
	}
	e.log.Info("command killed", "session", session)
	return nil
}
