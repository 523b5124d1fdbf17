// Package notify bridges committed directory mutations to the background
// job queue.
package notify

import (
	"context"
	"log/slog"

	"github.com/engagetrack/engagetrack/internal/directory"
	"github.com/engagetrack/engagetrack/jobs"
)

// Dispatcher enqueues role-change notifications. Failures are reported to
// the caller for logging but must never block or revert the change.
type Dispatcher struct {
	queue  *jobs.Client
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(queue *jobs.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger}
}

// RoleChanged enqueues an email notification for the committed change.
func (d *Dispatcher) RoleChanged(ctx context.Context, evt directory.RoleChangeEvent) error {
	if d == nil || d.queue == nil {
		return nil
	}
	_, err := d.queue.EnqueueRoleChangeEmail(ctx, jobs.RoleChangeEmailPayload{
		TargetUserID: evt.TargetID.String(),
		Action:       evt.Action,
		Role:         string(evt.Role),
		ActorName:    evt.ActorName,
	})
	return err
}
