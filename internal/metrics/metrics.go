// Package metrics exports deploy, sync and teardown outcomes to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "depot"

// Recorder holds the collectors. A nil *Recorder records nothing.
type Recorder struct {
	deployments    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	syncVerdicts   *prometheus.CounterVec
	syncApplied    *prometheus.CounterVec
	teardownSteps  *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

// New registers the collectors with reg, or the default registerer when nil.
// Collectors already registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var r Recorder
	var err error
	if r.deployments, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deployments_total",
		Help:      "Provisioning runs by action and result.",
	}, []string{"action", "result"})); err != nil {
		return nil, err
	}
	if r.deployDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deployment_duration_seconds",
		Help:      "Wall time of provisioning runs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if r.syncVerdicts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_verdicts_total",
		Help:      "Reconciliation verdicts by recommended action.",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if r.syncApplied, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_applied_total",
		Help:      "Corrections written to the record store.",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if r.teardownSteps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "teardown_steps_total",
		Help:      "Teardown step outcomes.",
	}, []string{"step", "status"})); err != nil {
		return nil, err
	}
	if r.commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Operator commands by binary and result.",
	}, []string{"command", "result"})); err != nil {
		return nil, err
	}
	return &r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (r *Recorder) Deployment(action, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.deployments.WithLabelValues(action, result).Inc()
	r.deployDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (r *Recorder) SyncVerdict(action string) {
	if r == nil {
		return
	}
	r.syncVerdicts.WithLabelValues(action).Inc()
}

func (r *Recorder) SyncApplied(action string) {
	if r == nil {
		return
	}
	r.syncApplied.WithLabelValues(action).Inc()
}

func (r *Recorder) TeardownStep(step, status string) {
	if r == nil {
		return
	}
	r.teardownSteps.WithLabelValues(step, status).Inc()
}

func (r *Recorder) Command(name, result string) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(name, result).Inc()
}
