// Package reconcile compares local resource records with live provider state
// and corrects records that have drifted.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/metrics"
	"github.com/arencloud/depot/internal/models"
	"github.com/arencloud/depot/internal/provider"

	"golang.org/x/sync/errgroup"
)

var ErrUnknownAction = errors.New("unknown sync action")

// SyncStatus is the computed, unpersisted comparison for one resource.
type SyncStatus struct {
	ResourceID        string                   `json:"resourceId"`
	DisplayName       string                   `json:"displayName"`
	ObjectStoreName   string                   `json:"objectStoreName"`
	LocalStatus       models.ResourceStatus    `json:"localStatus"`
	StackExists       bool                     `json:"stackExists"`
	StackStatus       string                   `json:"stackStatus,omitempty"`
	StackStatusReason string                   `json:"stackStatusReason,omitempty"`
	Classification    Classification           `json:"classification,omitempty"`
	ObjectStoreExists bool                     `json:"objectStoreExists"`
	Outputs           *models.StackOutputs     `json:"outputs,omitempty"`
	Resources         []provider.StackResource `json:"resources,omitempty"`
	NeedsSync         bool                     `json:"needsSync"`
	RecommendedAction Action                   `json:"recommendedAction"`
	Applied           bool                     `json:"applied,omitempty"`
	Error             string                   `json:"error,omitempty"`
}

type Store interface {
	ListResources(ctx context.Context) ([]models.Resource, error)
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	UpdateResource(ctx context.Context, id string, u models.ResourceUpdate) error
	DeleteResource(ctx context.Context, id string) error
	DeleteFiles(ctx context.Context, objectStoreName string) (int64, error)
}

// Provider is what the reconciler asks of the cloud.
type Provider interface {
	provider.Stacks
	ObjectStoreExists(ctx context.Context, name, region string) (bool, error)
}

type Reconciler struct {
	store   Store
	prov    Provider
	log     logging.Logger
	metrics *metrics.Recorder
}

func New(store Store, prov Provider, log logging.Logger, m *metrics.Recorder) *Reconciler {
	if log == nil {
		log = logging.Nop()
	}
	return &Reconciler{store: store, prov: prov, log: log, metrics: m}
}

// Check inspects one resource without changing anything.
func (r *Reconciler) Check(ctx context.Context, id string) (*SyncStatus, error) {
	rec, err := r.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	st, _, err := r.inspect(ctx, rec)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// inspect queries stack and bucket concurrently and computes the verdict.
func (r *Reconciler) inspect(ctx context.Context, rec *models.Resource) (*SyncStatus, Verdict, error) {
	var (
		stack  *provider.Stack
		exists bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.prov.DescribeStack(gctx, rec.ObjectStoreName, rec.Region)
		if err != nil {
			return fmt.Errorf("describe stack: %w", err)
		}
		stack = s
		return nil
	})
	g.Go(func() error {
		ok, err := r.prov.ObjectStoreExists(gctx, rec.ObjectStoreName, rec.Region)
		if err != nil {
			return fmt.Errorf("check object store: %w", err)
		}
		exists = ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, Verdict{}, err
	}

	st := baseStatus(rec)
	st.ObjectStoreExists = exists
	if stack != nil {
		st.StackExists = true
		st.StackStatus = stack.Status
		st.StackStatusReason = stack.StatusReason
		st.Resources = stack.Resources
		if outs := models.OutputsFromMap(stack.Outputs); !outs.Empty() {
			st.Outputs = &outs
		}
	}
	st.Classification = Classify(st.StackStatus, stack != nil)
	v := Decide(rec.Status, st.Classification, exists)
	st.NeedsSync, st.RecommendedAction = v.NeedsSync, v.Action
	return st, v, nil
}

func baseStatus(rec *models.Resource) *SyncStatus {
	return &SyncStatus{
		ResourceID:        rec.ID,
		DisplayName:       rec.DisplayName,
		ObjectStoreName:   rec.ObjectStoreName,
		LocalStatus:       rec.Status,
		RecommendedAction: ActionNone,
	}
}

// SyncAll checks every record in turn, applying unambiguous corrections as it
// goes. A failure for one resource is reported on its result and never stops
// the sweep. emit, if set, receives each result as soon as it is known.
func (r *Reconciler) SyncAll(ctx context.Context, emit func(SyncStatus)) ([]SyncStatus, error) {
	recs, err := r.store.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SyncStatus, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		st := r.syncOne(ctx, rec)
		out = append(out, *st)
		if emit != nil {
			emit(*st)
		}
	}
	r.log.Info("sync sweep finished", "resources", len(out))
	return out, nil
}

func (r *Reconciler) syncOne(ctx context.Context, rec *models.Resource) *SyncStatus {
	st, v, err := r.inspect(ctx, rec)
	if err != nil {
		r.log.Warn("sync check failed", "resource", rec.ID, "error", err)
		st = baseStatus(rec)
		st.Error = err.Error()
		r.metrics.SyncVerdict("error")
		return st
	}
	r.metrics.SyncVerdict(string(v.Action))
	if !v.AutoApply {
		return st
	}
	if err := r.apply(ctx, rec, v.Action, st.Outputs); err != nil {
		r.log.Error("sync correction failed", "resource", rec.ID, "action", v.Action, "error", err)
		st.Error = err.Error()
		return st
	}
	r.log.Info("sync correction applied", "resource", rec.ID, "action", v.Action, "from", rec.Status)
	r.metrics.SyncApplied(string(v.Action))
	st.Applied = true
	return st
}

// Apply performs one named correction on a record. rollback deletes the stack
// first and leaves the record untouched if that fails.
func (r *Reconciler) Apply(ctx context.Context, id string, action Action) error {
	if !knownAction(action) {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	rec, err := r.store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	var outs *models.StackOutputs
	if action == ActionUpdateToActive {
		stack, err := r.prov.DescribeStack(ctx, rec.ObjectStoreName, rec.Region)
		if err != nil {
			r.log.Warn("describe stack for outputs", "resource", id, "error", err)
		} else if stack != nil {
			if o := models.OutputsFromMap(stack.Outputs); !o.Empty() {
				outs = &o
			}
		}
	}
	if err := r.apply(ctx, rec, action, outs); err != nil {
		return err
	}
	r.log.Info("sync action applied", "resource", id, "action", action)
	r.metrics.SyncApplied(string(action))
	return nil
}

func knownAction(a Action) bool {
	switch a {
	case ActionUpdateToActive, ActionUpdateToFailed, ActionUpdateToPending, ActionCleanup, ActionRollback, ActionNone:
		return true
	}
	return false
}

func (r *Reconciler) apply(ctx context.Context, rec *models.Resource, action Action, outs *models.StackOutputs) error {
	switch action {
	case ActionUpdateToActive:
		u := models.SetStatus(models.StatusActive)
		if outs != nil {
			u = models.SetStatusAndOutputs(models.StatusActive, *outs)
		}
		return r.store.UpdateResource(ctx, rec.ID, u)
	case ActionUpdateToFailed:
		return r.store.UpdateResource(ctx, rec.ID, models.SetStatus(models.StatusFailed))
	case ActionUpdateToPending:
		return r.store.UpdateResource(ctx, rec.ID, models.SetStatusAndOutputs(models.StatusPending, models.StackOutputs{}))
	case ActionCleanup:
		if _, err := r.store.DeleteFiles(ctx, rec.ObjectStoreName); err != nil {
			return fmt.Errorf("delete file metadata: %w", err)
		}
		return r.store.DeleteResource(ctx, rec.ID)
	case ActionRollback:
		if err := r.prov.DeleteStack(ctx, rec.ObjectStoreName, rec.Region); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		return r.store.UpdateResource(ctx, rec.ID, models.SetStatusAndOutputs(models.StatusPending, models.StackOutputs{}))
	case ActionNone:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}
