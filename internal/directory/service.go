package directory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/engagetrack/engagetrack/internal/audit"
	"github.com/engagetrack/engagetrack/internal/rbac"
	"github.com/engagetrack/engagetrack/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50

	// bulkWorkers bounds how many role mutations run concurrently in a
	// bulk request. Each target still gets its own transaction.
	bulkWorkers = 4
)

// RepositoryPort defines data access methods for the user directory.
type RepositoryPort interface {
	GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error)
	ListUsers(ctx context.Context, filter ListFilter) ([]UserAccount, int, error)
	ListStaleAccounts(ctx context.Context, cutoff time.Time) ([]UserAccount, error)
	WithUserTx(ctx context.Context, targetIDs []uuid.UUID, fn func(context.Context, TxRepositoryPort) error) error
}

// TxRepositoryPort exposes the mutations available inside a per-user
// transaction.
type TxRepositoryPort interface {
	GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error)
	SetUserRole(ctx context.Context, id uuid.UUID, role rbac.Role) error
	SetBlockStatus(ctx context.Context, id uuid.UUID, blocked bool, reason string) error
	CountSuperAdmins(ctx context.Context) (int, error)
}

// Auditor records role mutations in the audit trail.
type Auditor interface {
	Record(ctx context.Context, actorID, targetID uuid.UUID, action audit.Action, role rbac.Role, note string)
}

// RoleChangeEvent describes a committed role mutation for notification
// delivery.
type RoleChangeEvent struct {
	TargetID  uuid.UUID
	Action    string
	Role      rbac.Role
	ActorName string
}

// Notifier dispatches role-change notifications. Delivery failures must
// never surface to callers.
type Notifier interface {
	RoleChanged(ctx context.Context, evt RoleChangeEvent) error
}

// MutationObserver counts role mutation outcomes for monitoring.
type MutationObserver interface {
	ObserveRoleMutation(action, outcome string)
}

// Service handles user directory business logic: role assignment,
// blocking, ownership transfer, listing and export.
type Service struct {
	repo     RepositoryPort
	auditor  Auditor
	notifier Notifier
	cache    *Cache
	metrics  MutationObserver
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, auditor Auditor, notifier Notifier, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, auditor: auditor, notifier: notifier, cache: cache, logger: logger}
}

// SetMetrics attaches a mutation observer.
func (s *Service) SetMetrics(metrics MutationObserver) {
	s.metrics = metrics
}

func (s *Service) observe(action audit.Action, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, shared.ErrAlreadyInState):
		outcome = "skipped"
	case err != nil:
		outcome = "failed"
	}
	s.metrics.ObserveRoleMutation(string(action), outcome)
}

// ListResult is one page of the directory.
type ListResult struct {
	Users      []UserAccount `json:"users"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// Get returns a single directory entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (UserAccount, error) {
	return s.repo.GetUser(ctx, id)
}

// List returns one page of the directory, served from cache when possible.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	filter = clampFilter(filter)

	var result ListResult
	load := func(ctx context.Context) (interface{}, error) {
		users, total, err := s.repo.ListUsers(ctx, filter)
		if err != nil {
			return nil, err
		}
		if users == nil {
			users = []UserAccount{}
		}
		pages := total / filter.PageSize
		if total%filter.PageSize != 0 {
			pages++
		}
		return ListResult{
			Users:      users,
			Total:      total,
			Page:       filter.Page,
			PageSize:   filter.PageSize,
			TotalPages: pages,
		}, nil
	}

	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return ListResult{}, err
		}
		return value.(ListResult), nil
	}

	key, err := s.cache.BuildKey(ctx, keyUserList(filter))
	if err != nil {
		s.logger.Warn("directory cache unavailable", slog.Any("error", err))
		value, err := load(ctx)
		if err != nil {
			return ListResult{}, err
		}
		return value.(ListResult), nil
	}
	if err := s.cache.FetchJSON(ctx, key, &result, load); err != nil {
		return ListResult{}, err
	}
	return result, nil
}

func clampFilter(filter ListFilter) ListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	return filter
}

// loadActor resolves the acting user and enforces that only unblocked
// admins and super admins may manage the directory.
func (s *Service) loadActor(ctx context.Context, actorID uuid.UUID) (UserAccount, error) {
	actor, err := s.repo.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return UserAccount{}, shared.ErrPermissionDenied
		}
		return UserAccount{}, err
	}
	if actor.Blocked {
		return UserAccount{}, shared.Denied("Blocked accounts cannot manage users")
	}
	if actor.CurrentRole().Level() < rbac.RoleAdmin.Level() {
		return UserAccount{}, shared.ErrPermissionDenied
	}
	return actor, nil
}

// AssignRole grants the requested role to the target, replacing the
// target's current role.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID uuid.UUID, role rbac.Role) (ChangeResult, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return ChangeResult{}, err
	}
	return s.applyChange(ctx, actor, targetID, role, audit.ActionAdd)
}

// ChangeRole switches the target to the requested role.
func (s *Service) ChangeRole(ctx context.Context, actorID, targetID uuid.UUID, role rbac.Role) (ChangeResult, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return ChangeResult{}, err
	}
	return s.applyChange(ctx, actor, targetID, role, audit.ActionChange)
}

// RemoveRole removes the named role from the target, downgrading to its
// fallback role rather than leaving the account roleless.
func (s *Service) RemoveRole(ctx context.Context, actorID, targetID uuid.UUID, role rbac.Role) (ChangeResult, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return ChangeResult{}, err
	}
	return s.applyRemoval(ctx, actor, targetID, role)
}

func (s *Service) applyChange(ctx context.Context, actor UserAccount, targetID uuid.UUID, role rbac.Role, action audit.Action) (ChangeResult, error) {
	if !role.Valid() {
		return ChangeResult{}, fmt.Errorf("%w: unknown role %q", shared.ErrPermissionDenied, role)
	}
	isSelf := actor.ID == targetID

	var result ChangeResult
	err := s.repo.WithUserTx(ctx, []uuid.UUID{targetID}, func(ctx context.Context, tx TxRepositoryPort) error {
		target, err := tx.GetUser(ctx, targetID)
		if err != nil {
			return err
		}
		decision := rbac.EvaluateChange(actor.CurrentRole(), target.Roles, role, isSelf)
		if !decision.Allowed {
			return shared.Denied(decision.Reason)
		}
		if target.CurrentRole() == decision.ResultingRole {
			return shared.ErrAlreadyInState
		}
		if err := tx.SetUserRole(ctx, targetID, decision.ResultingRole); err != nil {
			return err
		}
		if target.HasRole(rbac.RoleSuperAdmin) && decision.ResultingRole != rbac.RoleSuperAdmin {
			if err := ensureSuperAdminRemains(ctx, tx); err != nil {
				return err
			}
		}
		result = ChangeResult{TargetID: targetID, ResultingRole: decision.ResultingRole, Warning: decision.Warning}
		return nil
	})
	s.observe(action, err)
	if err != nil {
		return ChangeResult{}, err
	}

	s.afterMutation(ctx, actor, targetID, action, result.ResultingRole, result.Warning)
	return result, nil
}

func (s *Service) applyRemoval(ctx context.Context, actor UserAccount, targetID uuid.UUID, role rbac.Role) (ChangeResult, error) {
	if !role.Valid() {
		return ChangeResult{}, fmt.Errorf("%w: unknown role %q", shared.ErrPermissionDenied, role)
	}
	isSelf := actor.ID == targetID

	var result ChangeResult
	err := s.repo.WithUserTx(ctx, []uuid.UUID{targetID}, func(ctx context.Context, tx TxRepositoryPort) error {
		target, err := tx.GetUser(ctx, targetID)
		if err != nil {
			return err
		}
		if !target.HasRole(role) {
			return shared.ErrAlreadyInState
		}
		decision := rbac.EvaluateRemoval(actor.CurrentRole(), target.Roles, role, isSelf)
		if !decision.Allowed {
			return shared.Denied(decision.Reason)
		}
		if err := tx.SetUserRole(ctx, targetID, decision.ResultingRole); err != nil {
			return err
		}
		if target.HasRole(rbac.RoleSuperAdmin) && decision.ResultingRole != rbac.RoleSuperAdmin {
			if err := ensureSuperAdminRemains(ctx, tx); err != nil {
				return err
			}
		}
		result = ChangeResult{TargetID: targetID, ResultingRole: decision.ResultingRole, Warning: decision.Warning}
		return nil
	})
	s.observe(audit.ActionRemove, err)
	if err != nil {
		return ChangeResult{}, err
	}

	s.afterMutation(ctx, actor, targetID, audit.ActionRemove, result.ResultingRole, result.Warning)
	return result, nil
}

func ensureSuperAdminRemains(ctx context.Context, tx TxRepositoryPort) error {
	count, err := tx.CountSuperAdmins(ctx)
	if err != nil {
		return err
	}
	if count < 1 {
		return shared.ErrInvariantViolation
	}
	return nil
}

// afterMutation performs the best-effort side effects of a committed
// change: audit record, notification, cache invalidation.
func (s *Service) afterMutation(ctx context.Context, actor UserAccount, targetID uuid.UUID, action audit.Action, role rbac.Role, note string) {
	if s.auditor != nil {
		s.auditor.Record(ctx, actor.ID, targetID, action, role, note)
	}
	if s.notifier != nil {
		evt := RoleChangeEvent{TargetID: targetID, Action: string(action), Role: role, ActorName: actor.DisplayName}
		if err := s.notifier.RoleChanged(ctx, evt); err != nil {
			s.logger.Warn("role change notification failed",
				slog.String("target_id", targetID.String()),
				slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("directory cache bump failed", slog.Any("error", err))
		}
	}
}

// BulkAssignRole assigns a role to many targets. Each target is decided
// and written independently; one failure never aborts the batch.
func (s *Service) BulkAssignRole(ctx context.Context, actorID uuid.UUID, targetIDs []uuid.UUID, role rbac.Role) (BulkOutcome, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return BulkOutcome{}, err
	}
	return s.runBulk(ctx, targetIDs, func(ctx context.Context, targetID uuid.UUID) error {
		_, err := s.applyChange(ctx, actor, targetID, role, audit.ActionAdd)
		return err
	})
}

// BulkRemoveRole removes a role from many targets with the same
// isolation guarantees as BulkAssignRole.
func (s *Service) BulkRemoveRole(ctx context.Context, actorID uuid.UUID, targetIDs []uuid.UUID, role rbac.Role) (BulkOutcome, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return BulkOutcome{}, err
	}
	return s.runBulk(ctx, targetIDs, func(ctx context.Context, targetID uuid.UUID) error {
		_, err := s.applyRemoval(ctx, actor, targetID, role)
		return err
	})
}

func (s *Service) runBulk(ctx context.Context, targetIDs []uuid.UUID, apply func(context.Context, uuid.UUID) error) (BulkOutcome, error) {
	var succeeded, skipped, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkers)
	for _, targetID := range targetIDs {
		targetID := targetID
		g.Go(func() error {
			err := apply(ctx, targetID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, shared.ErrAlreadyInState):
				skipped.Add(1)
			default:
				failed.Add(1)
				s.logger.Warn("bulk role mutation failed",
					slog.String("target_id", targetID.String()),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return BulkOutcome{
		Succeeded: int(succeeded.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

// TransferOwnership moves super admin from the actor to an admin. The
// grant happens before the downgrade inside one transaction, so at no
// point does the system lack a super admin. With downgradeCurrent false
// the actor keeps super_admin and the system gains a second one.
func (s *Service) TransferOwnership(ctx context.Context, actorID, newOwnerID uuid.UUID, downgradeCurrent bool) error {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.CurrentRole() != rbac.RoleSuperAdmin {
		return shared.Denied("Only SUPER_ADMIN can transfer ownership")
	}
	if actorID == newOwnerID {
		return shared.Denied("Cannot transfer ownership to yourself")
	}

	err = s.repo.WithUserTx(ctx, []uuid.UUID{actorID, newOwnerID}, func(ctx context.Context, tx TxRepositoryPort) error {
		// Re-read the actor inside the lock: a concurrent transfer may
		// have already stripped super_admin.
		current, err := tx.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		if current.CurrentRole() != rbac.RoleSuperAdmin {
			return shared.Denied("Only SUPER_ADMIN can transfer ownership")
		}
		newOwner, err := tx.GetUser(ctx, newOwnerID)
		if err != nil {
			return err
		}
		if newOwner.Blocked {
			return shared.Denied("Cannot transfer ownership to a blocked user")
		}
		if newOwner.HasRole(rbac.RoleSuperAdmin) {
			return shared.ErrAlreadyInState
		}
		if newOwner.CurrentRole() != rbac.RoleAdmin {
			return shared.Denied("Ownership can only be transferred to an ADMIN")
		}
		if err := tx.SetUserRole(ctx, newOwnerID, rbac.RoleSuperAdmin); err != nil {
			return err
		}
		if downgradeCurrent {
			if err := tx.SetUserRole(ctx, actorID, rbac.RoleAdmin); err != nil {
				return err
			}
		}
		return ensureSuperAdminRemains(ctx, tx)
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, actor, newOwnerID, audit.ActionTransfer, rbac.RoleSuperAdmin, "")
	if downgradeCurrent && s.auditor != nil {
		s.auditor.Record(ctx, actor.ID, actor.ID, audit.ActionChange, rbac.RoleAdmin, "ownership transfer downgrade")
	}
	return nil
}

// SetBlockStatus blocks or unblocks the target account. Roles are left
// untouched so an unblock restores the prior access level.
func (s *Service) SetBlockStatus(ctx context.Context, actorID, targetID uuid.UUID, blocked bool, reason string) error {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	if decision := rbac.EvaluateBlock(actor.CurrentRole()); !decision.Allowed {
		return shared.Denied(decision.Reason)
	}
	if actorID == targetID {
		return shared.Denied("Cannot block your own account")
	}

	err = s.repo.WithUserTx(ctx, []uuid.UUID{targetID}, func(ctx context.Context, tx TxRepositoryPort) error {
		target, err := tx.GetUser(ctx, targetID)
		if err != nil {
			return err
		}
		if target.Blocked == blocked {
			return shared.ErrAlreadyInState
		}
		return tx.SetBlockStatus(ctx, targetID, blocked, reason)
	})
	if err != nil {
		return err
	}

	action := audit.ActionBlock
	if !blocked {
		action = audit.ActionUnblock
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, actor.ID, targetID, action, "", reason)
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("directory cache bump failed", slog.Any("error", err))
		}
	}
	return nil
}

// ExportCSV renders the filtered directory as a CSV document.
func (s *Service) ExportCSV(ctx context.Context, filter ListFilter) ([]byte, error) {
	filter = clampFilter(filter)
	filter.Page = 1
	filter.PageSize = maxPageSize

	var all []UserAccount
	for {
		users, total, err := s.repo.ListUsers(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, users...)
		if len(all) >= total || len(users) == 0 {
			break
		}
		filter.Page++
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Name", "Email", "User ID", "Roles", "Blocked", "Export Date"}); err != nil {
		return nil, err
	}
	exportDate := time.Now().UTC().Format("2006-01-02")
	for _, u := range all {
		names := make([]string, 0, len(u.Roles))
		for _, r := range u.Roles {
			names = append(names, r.DisplayName())
		}
		blocked := "No"
		if u.Blocked {
			blocked = "Yes"
		}
		record := []string{u.DisplayName, u.Email, u.ID.String(), strings.Join(names, ", "), blocked, exportDate}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StaleAccounts lists accounts whose session window has lapsed, used by
// the scheduled scan job.
func (s *Service) StaleAccounts(ctx context.Context) ([]UserAccount, error) {
	cutoff := time.Now().UTC().Add(-SessionExpiry)
	return s.repo.ListStaleAccounts(ctx, cutoff)
}
