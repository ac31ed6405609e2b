// Package teardown removes a resource and everything it owns, one fixed step
// at a time, reporting each step as it runs.
package teardown

import (
	"context"
	"errors"
	"fmt"

	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/metrics"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/provider"
)

type Step string

const (
	StepFiles    Step = "files"
	StepCDN      Step = "cdn"
	StepStore    Step = "store"
	StepMetadata Step = "metadata"
	StepComplete Step = "complete"
)

// Steps is the fixed execution order.
var Steps = []Step{StepFiles, StepCDN, StepStore, StepMetadata}

type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusDone    StepStatus = "done"
	StatusError   StepStatus = "error"
)

// StepEvent is one line of a teardown stream.
type StepEvent struct {
	Step   Step       `json:"step"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

type Store interface {
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	UpdateResource(ctx context.Context, id string, u models.ResourceUpdate) error
	DeleteResource(ctx context.Context, id string) error
	DeleteFiles(ctx context.Context, objectStoreName string) (int64, error)
}

// Provider is the destructive subset of provider.Provider.
type Provider interface {
	provider.ObjectStores
	provider.Distributions
}

type Pipeline struct {
	store   Store
	prov    Provider
	log     logging.Logger
	metrics *metrics.Recorder
}

func New(store Store, prov Provider, log logging.Logger, m *metrics.Recorder) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{store: store, prov: prov, log: log, metrics: m}
}

// Run executes files, cdn, store and metadata in order. A failing step is
// reported and the next one runs anyway. The stream always ends with a
// complete event, which is error only when the pipeline itself could not be
// set up; that error is also returned.
func (p *Pipeline) Run(ctx context.Context, id string, emit func(StepEvent)) error {
	rec, err := p.prepare(ctx, id)
	if err != nil {
		p.log.Error("teardown aborted", "resource", id, "error", err)
		emit(StepEvent{Step: StepComplete, Status: StatusError, Error: err.Error()})
		return err
	}

	failed := 0
	for _, step := range Steps {
		emit(StepEvent{Step: step, Status: StatusRunning})
		ev := StepEvent{Step: step, Status: StatusDone}
		if err := p.runStep(ctx, step, id, rec); err != nil {
			failed++
			ev.Status, ev.Error = StatusError, err.Error()
			p.log.Warn("teardown step failed", "resource", id, "step", step, "error", err)
		}
		p.metrics.TeardownStep(string(step), string(ev.Status))
		emit(ev)
	}
	p.log.Info("teardown finished", "resource", id, "failedSteps", failed)
	emit(StepEvent{Step: StepComplete, Status: StatusDone})
	return nil
}

// prepare loads the record and marks it deleting. A missing record yields a
// nil resource so every step turns into a no-op.
func (p *Pipeline) prepare(ctx context.Context, id string) (*models.Resource, error) {
	if id == "" {
		return nil, errors.New("resource id is required")
	}
	rec, err := p.store.GetResource(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		p.log.Info("teardown of unknown resource, nothing to remove", "resource", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateResource(ctx, id, models.SetStatus(models.StatusDeleting)); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("mark deleting: %w", err)
	}
	return rec, nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, id string, rec *models.Resource) error {
	if rec == nil {
		return nil
	}
	switch step {
	case StepFiles:
		if rec.ObjectStoreName == "" {
			return nil
		}
		n, err := p.prov.EmptyObjectStore(ctx, rec.ObjectStoreName, rec.Region)
		if err != nil {
			return err
		}
		p.log.Debug("object store emptied", "resource", id, "deleted", n)
	case StepCDN:
		if rec.CDNDistributionID == "" {
			return nil
		}
		return p.prov.DeleteDistribution(ctx, rec.CDNDistributionID)
	case StepStore:
		if rec.ObjectStoreName == "" {
			return nil
		}
		return p.prov.DeleteObjectStore(ctx, rec.ObjectStoreName, rec.Region)
	case StepMetadata:
		// The record goes even when its file rows could not be removed.
		var filesErr error
		if rec.ObjectStoreName != "" {
			if _, err := p.store.DeleteFiles(ctx, rec.ObjectStoreName); err != nil {
				filesErr = err
			}
		}
		recErr := p.store.DeleteResource(ctx, id)
		if errors.Is(recErr, models.ErrNotFound) {
			recErr = nil
		}
		return errors.Join(filesErr, recErr)
	}
	return nil
}

// SoftDelete removes the record and its file metadata and leaves every
// provider resource in place.
func SoftDelete(ctx context.Context, store Store, id string) error {
	rec, err := store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if _, err := store.DeleteFiles(ctx, rec.ObjectStoreName); err != nil {
		return err
	}
	return store.DeleteResource(ctx, id)
}
