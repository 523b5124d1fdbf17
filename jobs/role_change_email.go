package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/engagetrack/engagetrack/internal/directory"
	"github.com/engagetrack/engagetrack/mailer"
)

// UserLookup resolves directory entries for notification delivery.
type UserLookup interface {
	Get(ctx context.Context, id uuid.UUID) (directory.UserAccount, error)
}

// RoleChangeEmailJob delivers role-change notifications.
type RoleChangeEmailJob struct {
	users  UserLookup
	mail   mailer.Client
	logger *slog.Logger
}

// NewRoleChangeEmailJob builds the job handler.
func NewRoleChangeEmailJob(users UserLookup, mail mailer.Client, logger *slog.Logger) *RoleChangeEmailJob {
	return &RoleChangeEmailJob{users: users, mail: mail, logger: logger}
}

// Handle processes TaskTypeRoleChangeEmail tasks.
func (j *RoleChangeEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RoleChangeEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	targetID, err := uuid.Parse(payload.TargetUserID)
	if err != nil {
		return asynq.SkipRetry
	}

	user, err := j.users.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if user.Email == "" {
		j.logger.Warn("role change email skipped, no address",
			slog.String("target_id", targetID.String()))
		return nil
	}

	granted := payload.Action != "remove"
	subject, html, err := mailer.RenderRoleChange(mailer.RoleChangeData{
		UserName:  user.DisplayName,
		RoleName:  displayRole(payload.Role),
		ActorName: payload.ActorName,
		Granted:   granted,
	})
	if err != nil {
		return asynq.SkipRetry
	}
	if err := j.mail.Send(ctx, user.Email, subject, html); err != nil {
		return err
	}
	j.logger.Info("role change email sent",
		slog.String("target_id", targetID.String()),
		slog.String("action", payload.Action))
	return nil
}
