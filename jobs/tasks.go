package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRoleChangeEmail notifies a user that their role changed.
	TaskTypeRoleChangeEmail = "mail:role_change"
	// TaskTypeStaleAccountScan sweeps the directory for lapsed sessions.
	TaskTypeStaleAccountScan = "directory:stale_scan"
)

// RoleChangeEmailPayload describes one role-change notification.
type RoleChangeEmailPayload struct {
	TargetUserID string `json:"target_user_id"`
	Action       string `json:"action"`
	Role         string `json:"role"`
	ActorName    string `json:"actor_name"`
}

// NewRoleChangeEmailTask constructs an Asynq task.
func NewRoleChangeEmailTask(payload RoleChangeEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRoleChangeEmail, data), nil
}

// NewStaleAccountScanTask constructs the scheduled scan task.
func NewStaleAccountScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeStaleAccountScan, nil)
}
