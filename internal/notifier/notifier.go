package notifier

import (
	"context"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

// Notifier publishes job lifecycle events. It satisfies both
// intake.Notifier and dispatcher.Notifier without either package
// importing this one, the same indirection the teacher's job_notifier.go
// establishes between internal/services and internal/sse.
type Notifier struct {
	hub  *Hub
	bus  Bus
	log  *logger.Logger
}

func New(hub *Hub, bus Bus, baseLog *logger.Logger) *Notifier {
	return &Notifier{hub: hub, bus: bus, log: baseLog.With("component", "Notifier")}
}

// StartForwarder subscribes to the Redis bus (if configured) and replays
// every message it receives into the local Hub, so clients connected to
// this replica see events produced elsewhere. No-op if bus is nil.
func (n *Notifier) StartForwarder(ctx context.Context) error {
	if n.bus == nil {
		return nil
	}
	return n.bus.StartForwarder(ctx, n.hub.Broadcast)
}

func (n *Notifier) publish(ctx context.Context, msg Message) {
	n.hub.Broadcast(msg)
	if n.bus != nil {
		if err := n.bus.Publish(ctx, msg); err != nil {
			n.log.Warn("failed to publish notifier message", "error", err, "event", msg.Event)
		}
	}
}

func (n *Notifier) JobEnqueued(ctx context.Context, job *domain.Job) {
	n.publish(ctx, Message{
		Channel: job.PrincipalID.String(),
		Event:   EventJobEnqueued,
		Data:    map[string]any{"job": job},
	})
}

func (n *Notifier) JobStarted(ctx context.Context, job *domain.Job) {
	n.publish(ctx, Message{
		Channel: job.PrincipalID.String(),
		Event:   EventJobStarted,
		Data:    map[string]any{"job_id": job.ID, "job_type": job.Type, "attempt": job.Attempts},
	})
}

func (n *Notifier) JobCompleted(ctx context.Context, job *domain.Job) {
	n.publish(ctx, Message{
		Channel: job.PrincipalID.String(),
		Event:   EventJobCompleted,
		Data:    map[string]any{"job": job},
	})
}

func (n *Notifier) JobFailed(ctx context.Context, job *domain.Job, retrying bool) {
	event := EventJobFailed
	if retrying {
		event = EventJobRetryScheduled
	}
	n.publish(ctx, Message{
		Channel: job.PrincipalID.String(),
		Event:   event,
		Data: map[string]any{
			"job_id":        job.ID,
			"job_type":      job.Type,
			"error":         job.Error,
			"attempts":      job.Attempts,
			"next_retry_at": job.NextRetryAt,
		},
	})
}
