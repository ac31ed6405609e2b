// Package deploy runs the infrastructure toolchain for one provisioning action
// and decides whether it really succeeded.
package deploy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/depot/internal/errorpattern"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/metrics"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/proc"
	"github.com/arencloud/depot/internal/stream"

	"golang.org/x/sync/errgroup"
)

type Action string

const (
	ActionSynthesize Action = "synthesize"
	ActionDeploy     Action = "deploy"
)

// Request is the input of one run. ObjectStoreName and Region are taken from
// the record when a ResourceID is given and they are empty.
type Request struct {
	Action          Action `json:"action" binding:"required,oneof=synthesize deploy"`
	ResourceID      string `json:"resourceId,omitempty"`
	ObjectStoreName string `json:"objectStoreName,omitempty"`
	Region          string `json:"region,omitempty"`
}

// Result summarises a run. It is also the data of the final result event.
type Result struct {
	Success    bool                    `json:"success"`
	Reason     string                  `json:"reason,omitempty"`
	Exit       *proc.ExitStatus        `json:"exit,omitempty"`
	Outputs    *models.StackOutputs    `json:"outputs,omitempty"`
	Diagnosis  *errorpattern.Diagnosis `json:"diagnosis,omitempty"`
	DurationMs int64                   `json:"durationMs"`
}

// Store is the part of the record store the runner writes to.
type Store interface {
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	UpdateResource(ctx context.Context, id string, u models.ResourceUpdate) error
}

type Options struct {
	Dir                 string
	Command             string
	OutputsFile         string
	DefaultRegion       string
	Timeout             time.Duration
	Grace               time.Duration
	RequireFreshOutputs bool
}

type Runner struct {
	opts    Options
	store   Store
	spawner proc.Spawner
	matcher *errorpattern.Matcher
	log     logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewRunner(opts Options, store Store, spawner proc.Spawner, matcher *errorpattern.Matcher, log logging.Logger, m *metrics.Recorder) *Runner {
	if opts.Command == "" {
		opts.Command = "npx"
	}
	if opts.OutputsFile == "" {
		opts.OutputsFile = "cdk-outputs.json"
	}
	if matcher == nil {
		matcher = errorpattern.Default()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{opts: opts, store: store, spawner: spawner, matcher: matcher, log: log, metrics: m, now: time.Now}
}

// outputsFile names the artifact of one run. The object store name is folded
// into the configured name so runs for different resources never share a file.
func (r *Runner) outputsFile(objectStoreName string) string {
	ext := filepath.Ext(r.opts.OutputsFile)
	return strings.TrimSuffix(r.opts.OutputsFile, ext) + "-" + objectStoreName + ext
}

func (r *Runner) outputsPath(objectStoreName string) string {
	f := r.outputsFile(objectStoreName)
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(r.opts.Dir, f)
}

// Run executes req, streaming progress to sink. The stream always ends with
// exactly one result event. The returned error is non-nil only when the run
// could not be attempted (bad request, record store failure); toolchain
// failures are reported through Result.
func (r *Runner) Run(ctx context.Context, req Request, sink stream.Sink) (res Result, err error) {
	started := r.now()
	defer func() {
		elapsed := r.now().Sub(started)
		res.DurationMs = elapsed.Milliseconds()
		outcome := stream.ResultError
		if res.Success {
			outcome = stream.ResultSuccess
		}
		r.metrics.Deployment(string(req.Action), outcome, elapsed)
		if err != nil {
			sink.Emit(stream.Result(false, err.Error(), nil))
			return
		}
		msg := "Provisioning failed"
		if res.Success {
			msg = "Provisioning succeeded"
			if req.Action == ActionSynthesize {
				msg = "Synthesis succeeded"
			}
		}
		sink.Emit(stream.Result(res.Success, msg, res))
	}()

	if req.Action != ActionSynthesize && req.Action != ActionDeploy {
		return res, fmt.Errorf("unknown action %q", req.Action)
	}
	rec, err := r.resolve(ctx, &req)
	if err != nil {
		return res, err
	}

	if !r.precheck(sink) {
		d := errorpattern.Diagnosis{
			Pattern:     "infra-dir-missing",
			Title:       "Infrastructure directory not found",
			Remediation: fmt.Sprintf("The toolchain directory %q does not exist. Set INFRA_DIR to the infrastructure project.", r.opts.Dir),
		}
		sink.Emit(stream.Event{Type: stream.TypeErrorIntelligence, Level: stream.LevelError, Message: d.Title, Data: d})
		res.Diagnosis = &d
		return res, nil
	}

	tracked := req.Action == ActionDeploy && rec != nil
	if tracked {
		if err := r.store.UpdateResource(ctx, rec.ID, models.SetStatus(models.StatusDeploying)); err != nil {
			return res, fmt.Errorf("mark deploying: %w", err)
		}
		sink.Emit(stream.Info(stream.TypeStatus, "Resource marked deploying").WithStatus(string(models.StatusDeploying)))
	}

	args := []string{"cdk", "synth"}
	if req.Action == ActionDeploy {
		args = []string{"cdk", "deploy", "--require-approval", "never", "--outputs-file", r.outputsFile(req.ObjectStoreName)}
	}
	sink.Emit(stream.Event{Type: stream.TypeCommand, Level: stream.LevelCommand, Message: r.opts.Command + " " + strings.Join(args, " ")})

	output, status, runErr := r.execute(ctx, proc.Spec{
		Name:    r.opts.Command,
		Args:    args,
		Dir:     r.opts.Dir,
		Env:     buildEnv(req, rec),
		Timeout: r.opts.Timeout,
		Grace:   r.opts.Grace,
	}, sink)

	if runErr != nil {
		r.log.Error("toolchain did not run", "objectStore", req.ObjectStoreName, "error", runErr)
		r.fail(ctx, &res, tracked, rec, runErr.Error(), hintsFor(req), sink)
		return res, nil
	}
	res.Exit = &status

	ok, reason := decide(evidence{
		exitCode:        status.Code,
		timedOut:        status.TimedOut,
		outputsPath:     r.outputsPath(req.ObjectStoreName),
		objectStoreName: req.ObjectStoreName,
		output:          output,
		started:         started,
		requireFresh:    r.opts.RequireFreshOutputs,
	})
	if !ok {
		text := output
		if status.TimedOut {
			text += "\nprocess timed out and was killed"
		}
		r.log.Warn("provisioning failed", "action", req.Action, "objectStore", req.ObjectStoreName, "exitCode", status.Code, "timedOut", status.TimedOut)
		r.fail(ctx, &res, tracked, rec, text, hintsFor(req), sink)
		return res, nil
	}

	res.Success, res.Reason = true, reason
	r.log.Info("provisioning succeeded", "action", req.Action, "objectStore", req.ObjectStoreName, "reason", reason, "exitCode", status.Code)
	if req.Action != ActionDeploy {
		return res, nil
	}

	update := models.SetStatus(models.StatusActive)
	if m, err := readStackOutputs(r.outputsPath(req.ObjectStoreName), req.ObjectStoreName, started, r.opts.RequireFreshOutputs); err == nil {
		outs := models.OutputsFromMap(m)
		res.Outputs = &outs
		update = models.SetStatusAndOutputs(models.StatusActive, outs)
		sink.Emit(stream.Event{Type: stream.TypeOutputs, Level: stream.LevelSuccess, Message: "Stack outputs captured", Data: outs})
	} else {
		r.log.Warn("stack outputs unavailable", "objectStore", req.ObjectStoreName, "error", err)
		sink.Emit(stream.Warn(stream.TypeOutputs, "Stack outputs could not be read; resource marked active without them"))
	}
	if tracked {
		if err := r.store.UpdateResource(ctx, rec.ID, update); err != nil {
			return res, fmt.Errorf("mark active: %w", err)
		}
		sink.Emit(stream.Event{Type: stream.TypeStatus, Level: stream.LevelSuccess, Status: string(models.StatusActive), Message: "Resource marked active"})
	}
	return res, nil
}

// resolve loads the record named by req and fills defaults into req.
func (r *Runner) resolve(ctx context.Context, req *Request) (*models.Resource, error) {
	var rec *models.Resource
	if req.ResourceID != "" {
		got, err := r.store.GetResource(ctx, req.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("load resource %s: %w", req.ResourceID, err)
		}
		rec = got
		if req.ObjectStoreName == "" {
			req.ObjectStoreName = rec.ObjectStoreName
		}
		if req.Region == "" {
			req.Region = rec.Region
		}
	}
	if req.Region == "" {
		req.Region = r.opts.DefaultRegion
	}
	if req.ObjectStoreName == "" {
		return nil, errors.New("objectStoreName is required when no resourceId is given")
	}
	return rec, nil
}

// precheck reports false when the toolchain directory is missing. A missing
// dependency install only warns.
func (r *Runner) precheck(sink stream.Sink) bool {
	fi, err := os.Stat(r.opts.Dir)
	if err != nil || !fi.IsDir() {
		sink.Emit(stream.Error(stream.TypeCheck, "Infrastructure directory not found: "+r.opts.Dir).WithLabel("infrastructure"))
		return false
	}
	sink.Emit(stream.Event{Type: stream.TypeCheck, Level: stream.LevelSuccess, Label: "infrastructure", Message: "Infrastructure directory found"})
	if _, err := os.Stat(filepath.Join(r.opts.Dir, "node_modules")); err != nil {
		sink.Emit(stream.Warn(stream.TypeCheck, "Dependencies not installed. Run: cd "+r.opts.Dir+" && npm install").WithLabel("dependencies"))
	} else {
		sink.Emit(stream.Event{Type: stream.TypeCheck, Level: stream.LevelSuccess, Label: "dependencies", Message: "Dependencies installed"})
	}
	return true
}

// execute spawns the toolchain and streams its output. It returns the
// combined output text.
func (r *Runner) execute(ctx context.Context, spec proc.Spec, sink stream.Sink) (string, proc.ExitStatus, error) {
	p, err := r.spawner.Spawn(ctx, spec)
	if err != nil {
		return "", proc.ExitStatus{}, err
	}
	var (
		mu       sync.Mutex
		combined strings.Builder
	)
	pump := func(rd io.Reader, t stream.EventType) func() error {
		return func() error {
			sc := bufio.NewScanner(rd)
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for sc.Scan() {
				line := sc.Text()
				mu.Lock()
				combined.WriteString(line)
				combined.WriteByte('\n')
				sink.Emit(stream.Event{Type: t, Level: lineLevel(t, line), Message: line})
				mu.Unlock()
			}
			return sc.Err()
		}
	}
	var g errgroup.Group
	g.Go(pump(p.Stdout(), stream.TypeStdout))
	g.Go(pump(p.Stderr(), stream.TypeStderr))
	readErr := g.Wait()

	status, waitErr := p.Wait()
	if waitErr != nil {
		return combined.String(), status, waitErr
	}
	if readErr != nil {
		r.log.Warn("reading toolchain output", "error", readErr)
	}
	lvl := stream.LevelInfo
	if status.Code != 0 {
		lvl = stream.LevelWarn
	}
	msg := "Process exited with code " + strconv.Itoa(status.Code)
	if status.TimedOut {
		msg += " after timing out"
	}
	sink.Emit(stream.Event{Type: stream.TypeExit, Level: lvl, Message: msg, Data: status})
	return combined.String(), status, nil
}

// fail diagnoses text and marks a tracked record failed.
func (r *Runner) fail(ctx context.Context, res *Result, tracked bool, rec *models.Resource, text string, h errorpattern.Hints, sink stream.Sink) {
	d := r.matcher.Diagnose(text, h)
	res.Diagnosis = &d
	sink.Emit(stream.Event{Type: stream.TypeErrorIntelligence, Level: stream.LevelError, Message: d.Title, Data: d})
	if !tracked {
		return
	}
	if err := r.store.UpdateResource(ctx, rec.ID, models.SetStatus(models.StatusFailed)); err != nil {
		r.log.Error("mark failed", "resource", rec.ID, "error", err)
		return
	}
	sink.Emit(stream.Error(stream.TypeStatus, "Resource marked failed").WithStatus(string(models.StatusFailed)))
}

func hintsFor(req Request) errorpattern.Hints {
	return errorpattern.Hints{StackName: models.StackName(req.ObjectStoreName), Region: req.Region}
}

func buildEnv(req Request, rec *models.Resource) map[string]string {
	env := map[string]string{
		"BUCKET_NAME":        req.ObjectStoreName,
		"STACK_NAME":         models.StackName(req.ObjectStoreName),
		"AWS_REGION":         req.Region,
		"CDK_DEFAULT_REGION": req.Region,
	}
	if rec != nil {
		env["BUCKET_VERSIONING"] = strconv.FormatBool(rec.Config.Versioning)
		env["BUCKET_ENCRYPTION"] = rec.Config.Encryption
		env["BUCKET_BACKUP_REPLICATION"] = strconv.FormatBool(rec.Config.BackupReplication)
		env["BUCKET_MAX_OBJECT_SIZE_MB"] = strconv.Itoa(rec.Config.MaxObjectSizeMB)
	}
	return env
}
