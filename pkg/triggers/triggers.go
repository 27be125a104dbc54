// Package triggers turns queue events into downstream work.
//
// A Dispatcher consumes the queue's event stream on its own goroutine, so a
// slow or failing consumer never holds up a job's completion. Completed
// metrics jobs trigger a snapshot check for their campaign; completed
// engagement jobs trigger alert detection.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
)

// DefaultTimeout bounds each handler invocation.
const DefaultTimeout = 30 * time.Second

// Trigger names used in logs and metrics.
const (
	TriggerSnapshot = "snapshot"
	TriggerAlerts   = "alerts"
)

// SnapshotChecker writes a metric snapshot when a campaign is due one.
type SnapshotChecker interface {
	MaybeSnapshot(ctx context.Context, campaignID string) (*core.MetricSnapshot, error)
}

// AlertDetector checks a campaign for anomalies.
type AlertDetector interface {
	Detect(ctx context.Context, campaignID string) ([]*core.Alert, error)
}

// EventSource is the queue's event subscription API.
type EventSource interface {
	Events() <-chan core.Event
	Unsubscribe(ch <-chan core.Event)
}

// Dispatcher routes job completions to their triggers.
type Dispatcher struct {
	source    EventSource
	snapshots SnapshotChecker
	alerts    AlertDetector
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout bounds each handler invocation.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// New creates a Dispatcher. Either consumer may be nil.
func New(source EventSource, snapshots SnapshotChecker, alerts AlertDetector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:    source,
		snapshots: snapshots,
		alerts:    alerts,
		logger:    slog.Default(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start subscribes to the event source and handles events until ctx is
// cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	events := d.source.Events()
	defer d.source.Unsubscribe(events)
	return d.Run(ctx, events)
}

// Run handles events from ch until ctx is cancelled or ch is closed.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			d.Handle(ctx, e)
		}
	}
}

// Handle processes a single event. Failures are logged and counted.
func (d *Dispatcher) Handle(ctx context.Context, e core.Event) {
	done, ok := e.(*core.JobCompleted)
	if !ok || done.Skipped || done.Job == nil {
		return
	}
	job := done.Job

	if job.JobType == core.JobMetrics {
		if d.snapshots == nil {
			return
		}
		d.invoke(ctx, TriggerSnapshot, job, func(ctx context.Context) error {
			snap, err := d.snapshots.MaybeSnapshot(ctx, job.CampaignID)
			if err == nil && snap != nil {
				d.logger.Info("snapshot written",
					"campaign_id", job.CampaignID,
					"hour", snap.Hour)
			}
			return err
		})
		return
	}

	if d.alerts == nil {
		return
	}
	d.invoke(ctx, TriggerAlerts, job, func(ctx context.Context) error {
		_, err := d.alerts.Detect(ctx, job.CampaignID)
		return err
	})
}

func (d *Dispatcher) invoke(ctx context.Context, name string, job *core.Job, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()
	if err == nil {
		return
	}

	metrics.TriggerFailures.WithLabelValues(name).Inc()
	d.logger.Error("trigger failed",
		"trigger", name,
		"job_id", job.ID,
		"campaign_id", job.CampaignID,
		"post_id", job.PostID,
		"job_type", job.JobType,
		"error", err)
}
