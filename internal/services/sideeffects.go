package services

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldpulse/internal/logging"
	"fieldpulse/internal/models"
	"fieldpulse/internal/queue"
)

// Side-effect job kinds.
const (
	KindAudit     = "activity-log"
	KindAnalytics = "analytics"
	KindNotify    = "notify"
)

type pendingJob struct {
	kind    string
	payload any
}

func auditJob(ev models.GeofenceEvent) pendingJob {
	return pendingJob{kind: KindAudit, payload: ev}
}

func notifyJob(ev models.GeofenceEvent) pendingJob {
	return pendingJob{kind: KindNotify, payload: ev}
}

func analyticsJob(sample models.LocationSample) pendingJob {
	return pendingJob{kind: KindAnalytics, payload: sample}
}

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, ev models.GeofenceEvent) error
}

// LogNotifier writes notifications to the process log. Stands in for a
// push/SMS gateway.
type LogNotifier struct {
	Log *logging.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev models.GeofenceEvent) error {
	n.Log.Infof("notify %s: worker=%s zone=%s distance=%.0fm", ev.Event, ev.WorkerID, ev.ZoneID, ev.BreachDistance)
	return nil
}

// RegisterSideEffects binds the audit, analytics and notification handlers.
// Called once at startup, before the queue worker starts.
func (s *AttendanceService) RegisterSideEffects(q *queue.Queue, notifier Notifier) {
	q.RegisterHandler(KindAudit, func(ctx context.Context, job queue.Job) error {
		ev, ok := job.Payload.(models.GeofenceEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		detail, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return s.repo.InsertAuditEntry(ctx, &models.AuditEntry{
			WorkerID:  ev.WorkerID,
			Kind:      ev.Event,
			Detail:    string(detail),
			CreatedAt: ev.At,
		})
	})

	q.RegisterHandler(KindAnalytics, func(ctx context.Context, job queue.Job) error {
		sample, ok := job.Payload.(models.LocationSample)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		return s.repo.InsertLocationSample(ctx, &sample)
	})

	q.RegisterHandler(KindNotify, func(ctx context.Context, job queue.Job) error {
		ev, ok := job.Payload.(models.GeofenceEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		return notifier.Notify(ctx, ev)
	})
}
