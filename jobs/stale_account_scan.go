package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/engagetrack/engagetrack/internal/directory"
	"github.com/engagetrack/engagetrack/internal/rbac"
)

// StaleLister surfaces accounts whose session window has lapsed.
type StaleLister interface {
	StaleAccounts(ctx context.Context) ([]directory.UserAccount, error)
}

// StaleAccountScanJob reports accounts that have not signed in within the
// session expiry window. It is scheduled, not user triggered.
type StaleAccountScanJob struct {
	dir    StaleLister
	logger *slog.Logger
}

// NewStaleAccountScanJob builds the job handler.
func NewStaleAccountScanJob(dir StaleLister, logger *slog.Logger) *StaleAccountScanJob {
	return &StaleAccountScanJob{dir: dir, logger: logger}
}

// Handle processes TaskTypeStaleAccountScan tasks.
func (j *StaleAccountScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	accounts, err := j.dir.StaleAccounts(ctx)
	if err != nil {
		return err
	}

	var privileged int
	for _, account := range accounts {
		if account.CurrentRole().Level() >= rbac.RoleAdmin.Level() {
			privileged++
			j.logger.Warn("privileged account with lapsed session",
				slog.String("user_id", account.ID.String()),
				slog.String("role", string(account.CurrentRole())))
		}
	}
	j.logger.Info("stale account scan completed",
		slog.Int("stale", len(accounts)),
		slog.Int("privileged", privileged))
	return nil
}

func displayRole(raw string) string {
	role, err := rbac.Parse(raw)
	if err != nil {
		return raw
	}
	return role.DisplayName()
}
