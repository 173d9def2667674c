// Package cascade implements the Cascade Coordinator (spec.md C7): the
// pattern by which a handler, during its own execution, enqueues child
// jobs of another type through the Intake API. Generalized from the
// teacher's internal/services/job_service.go CancelForRequestUser/
// RestartForRequestUser parent-child traversal (there used for cascading
// cancel/restart across a learning_build pipeline's child jobs) into a
// forward direction: cascading enqueue of children from a running parent.
package cascade

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/engineerr"
	"github.com/corwinhq/taskforge/internal/intake"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

type Coordinator struct {
	intake *intake.Intake
	policy *Policy
	log    *logger.Logger
}

// New wires a Coordinator to an optional policy document; a nil policy
// means cascade is globally unrestricted, per §4.7's "the engine imposes
// no cap".
func New(in *intake.Intake, policy *Policy, baseLog *logger.Logger) *Coordinator {
	return &Coordinator{intake: in, policy: policy, log: baseLog.With("component", "CascadeCoordinator")}
}

// Enqueue is the fire-and-forget idiom of §4.7: the parent awaits only
// the child's persistence, not its completion. A failure to enqueue
// (policy rejection, validation, unknown type, or rate-limit denial) is
// logged and swallowed — it MUST NOT fail the parent, which has already
// done its own work by the time it calls this.
func (c *Coordinator) Enqueue(ctx context.Context, principalID uuid.UUID, parentType, childType string, payload datatypes.JSON, priority int) (*domain.Job, bool) {
	if c.policy != nil && !c.policy.Allowed(parentType, childType) {
		c.log.Warn("cascade child rejected by policy, skipping", "parent_type", parentType, "child_type", childType, "principal_id", principalID)
		return nil, false
	}

	job, err := c.intake.Enqueue(ctx, principalID, intake.EnqueueRequest{
		Type:     childType,
		Payload:  payload,
		Priority: priority,
	})
	if err != nil {
		if e, ok := engineerr.As(err); ok && e.Code == engineerr.CodeRateLimited {
			c.log.Info("cascade child rate-limited, skipping", "child_type", childType, "principal_id", principalID)
		} else {
			c.log.Warn("cascade child enqueue failed, skipping", "child_type", childType, "principal_id", principalID, "error", err)
		}
		return nil, false
	}
	return job, true
}

// EnqueueBulk is the bulk cascade idiom of §4.7: a single parent success
// enqueues N children (e.g. one per leaf of a tree). The engine imposes
// no cap on N; callers bound it by application policy. Each payload gets
// its own independent rate-limit check and enqueue attempt — siblings
// have no ordering relative to one another, and a denial for one sibling
// does not affect the rest.
func (c *Coordinator) EnqueueBulk(ctx context.Context, principalID uuid.UUID, parentType, childType string, payloads []datatypes.JSON, priority int) (enqueued []*domain.Job, skipped int) {
	for _, payload := range payloads {
		job, ok := c.Enqueue(ctx, principalID, parentType, childType, payload, priority)
		if ok {
			enqueued = append(enqueued, job)
		} else {
			skipped++
		}
	}
	return enqueued, skipped
}
