package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/engagetrack/engagetrack/internal/audit"
	"github.com/engagetrack/engagetrack/internal/rbac"
	"github.com/engagetrack/engagetrack/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]UserAccount
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[uuid.UUID]UserAccount)}
}

func (r *memoryRepo) add(role rbac.Role, blocked bool) uuid.UUID {
	id := uuid.New()
	r.users[id] = UserAccount{
		ID:          id,
		Email:       id.String()[:8] + "@example.com",
		DisplayName: "User " + id.String()[:8],
		Roles:       []rbac.Role{role},
		Blocked:     blocked,
		CreatedAt:   time.Now().UTC(),
	}
	return id
}

func (r *memoryRepo) GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *memoryRepo) getLocked(id uuid.UUID) (UserAccount, error) {
	u, ok := r.users[id]
	if !ok {
		return UserAccount{}, shared.ErrNotFound
	}
	u.Roles = append([]rbac.Role(nil), u.Roles...)
	return u, nil
}

func (r *memoryRepo) ListUsers(ctx context.Context, filter ListFilter) ([]UserAccount, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UserAccount
	for id := range r.users {
		u, _ := r.getLocked(id)
		out = append(out, u)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListStaleAccounts(ctx context.Context, cutoff time.Time) ([]UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UserAccount
	for id := range r.users {
		u, _ := r.getLocked(id)
		if u.LastLoginAt == nil || u.LastLoginAt.Before(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

// WithUserTx serializes mutations and restores the previous state when fn
// fails, mirroring a rolled back transaction.
func (r *memoryRepo) WithUserTx(ctx context.Context, targetIDs []uuid.UUID, fn func(context.Context, TxRepositoryPort) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]UserAccount, len(r.users))
	for id, u := range r.users {
		u.Roles = append([]rbac.Role(nil), u.Roles...)
		snapshot[id] = u
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.users = snapshot
		return err
	}
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error) {
	return t.repo.getLocked(id)
}

func (t *memoryTx) SetUserRole(ctx context.Context, id uuid.UUID, role rbac.Role) error {
	u, ok := t.repo.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Roles = []rbac.Role{role}
	t.repo.users[id] = u
	return nil
}

func (t *memoryTx) SetBlockStatus(ctx context.Context, id uuid.UUID, blocked bool, reason string) error {
	u, ok := t.repo.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Blocked = blocked
	if blocked {
		now := time.Now().UTC()
		u.BlockedAt = &now
		u.BlockReason = reason
	} else {
		u.BlockedAt = nil
		u.BlockReason = ""
	}
	t.repo.users[id] = u
	return nil
}

func (t *memoryTx) CountSuperAdmins(ctx context.Context) (int, error) {
	count := 0
	for _, u := range t.repo.users {
		for _, role := range u.Roles {
			if role == rbac.RoleSuperAdmin {
				count++
				break
			}
		}
	}
	return count, nil
}

type memoryAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memoryAuditor) Record(ctx context.Context, actorID, targetID uuid.UUID, action audit.Action, role rbac.Role, note string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, audit.Entry{ActorID: actorID, TargetID: targetID, Action: action, Role: role, Note: note})
}

type memoryNotifier struct {
	mu     sync.Mutex
	events []RoleChangeEvent
	err    error
}

func (n *memoryNotifier) RoleChanged(ctx context.Context, evt RoleChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, evt)
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *memoryAuditor, *memoryNotifier) {
	auditor := &memoryAuditor{}
	notifier := &memoryNotifier{}
	svc := NewService(repo, auditor, notifier, nil, slog.Default())
	return svc, auditor, notifier
}

func TestAssignRoleByAdmin(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	targetID := repo.add(rbac.RoleParticipant, false)
	svc, auditor, notifier := newTestService(repo)

	result, err := svc.AssignRole(context.Background(), adminID, targetID, rbac.RoleHost)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleHost, result.ResultingRole)
	require.Empty(t, result.Warning)

	target, err := repo.GetUser(context.Background(), targetID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleHost, target.CurrentRole())

	require.Len(t, auditor.entries, 1)
	require.Equal(t, audit.ActionAdd, auditor.entries[0].Action)
	require.Equal(t, adminID, auditor.entries[0].ActorID)

	require.Len(t, notifier.events, 1)
	require.Equal(t, targetID, notifier.events[0].TargetID)
}

func TestAssignRoleActorGate(t *testing.T) {
	repo := newMemoryRepo()
	hostID := repo.add(rbac.RoleHost, false)
	targetID := repo.add(rbac.RoleParticipant, false)
	blockedAdminID := repo.add(rbac.RoleAdmin, true)
	svc, _, _ := newTestService(repo)

	_, err := svc.AssignRole(context.Background(), hostID, targetID, rbac.RoleViewer)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.AssignRole(context.Background(), blockedAdminID, targetID, rbac.RoleViewer)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = svc.AssignRole(context.Background(), uuid.New(), targetID, rbac.RoleViewer)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestAssignRoleAlreadyInState(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	targetID := repo.add(rbac.RoleHost, false)
	svc, auditor, _ := newTestService(repo)

	_, err := svc.AssignRole(context.Background(), adminID, targetID, rbac.RoleHost)
	require.ErrorIs(t, err, shared.ErrAlreadyInState)
	require.Empty(t, auditor.entries)
}

func TestAssignRoleUnknownTarget(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	svc, _, _ := newTestService(repo)

	_, err := svc.AssignRole(context.Background(), adminID, uuid.New(), rbac.RoleHost)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdminCannotAssignAdmin(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	targetID := repo.add(rbac.RoleParticipant, false)
	svc, _, _ := newTestService(repo)

	_, err := svc.AssignRole(context.Background(), adminID, targetID, rbac.RoleAdmin)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, rbac.ReasonAdminAssignable, err.Error())
}

func TestSelfDowngradeLastSuperAdminBlocked(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	svc, auditor, _ := newTestService(repo)

	_, err := svc.ChangeRole(context.Background(), superID, superID, rbac.RoleAdmin)
	require.ErrorIs(t, err, shared.ErrInvariantViolation)

	// The rolled back write leaves the role intact.
	actor, err := repo.GetUser(context.Background(), superID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, actor.CurrentRole())
	require.Empty(t, auditor.entries)
}

func TestSelfDowngradeWithRemainingSuperAdmin(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	repo.add(rbac.RoleSuperAdmin, false)
	svc, _, _ := newTestService(repo)

	result, err := svc.ChangeRole(context.Background(), superID, superID, rbac.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleAdmin, result.ResultingRole)
	require.Equal(t, rbac.WarningSelfDowngrade, result.Warning)
}

func TestNotifierFailureDoesNotFailChange(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	targetID := repo.add(rbac.RoleParticipant, false)
	svc, auditor, notifier := newTestService(repo)
	notifier.err = errors.New("queue unavailable")

	_, err := svc.AssignRole(context.Background(), adminID, targetID, rbac.RoleHost)
	require.NoError(t, err)
	require.Len(t, auditor.entries, 1)
}

func TestRemoveRoleDowngrades(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	targetID := repo.add(rbac.RoleHost, false)
	svc, auditor, _ := newTestService(repo)

	result, err := svc.RemoveRole(context.Background(), superID, targetID, rbac.RoleHost)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleParticipant, result.ResultingRole)

	require.Len(t, auditor.entries, 1)
	require.Equal(t, audit.ActionRemove, auditor.entries[0].Action)
}

func TestRemoveRoleProtected(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	adminID := repo.add(rbac.RoleAdmin, false)
	svc, _, _ := newTestService(repo)

	_, err := svc.RemoveRole(context.Background(), superID, adminID, rbac.RoleAdmin)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, rbac.ReasonProtectedRole, err.Error())
}

func TestRemoveRoleNotHeld(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	targetID := repo.add(rbac.RoleParticipant, false)
	svc, _, _ := newTestService(repo)

	_, err := svc.RemoveRole(context.Background(), superID, targetID, rbac.RoleHost)
	require.ErrorIs(t, err, shared.ErrAlreadyInState)
}

func TestBulkAssignPartialSuccess(t *testing.T) {
	repo := newMemoryRepo()
	adminID := repo.add(rbac.RoleAdmin, false)
	ok1 := repo.add(rbac.RoleParticipant, false)
	ok2 := repo.add(rbac.RoleViewer, false)
	skip1 := repo.add(rbac.RoleHost, false)
	skip2 := repo.add(rbac.RoleHost, false)
	denied := repo.add(rbac.RoleSuperAdmin, false)
	svc, _, _ := newTestService(repo)

	outcome, err := svc.BulkAssignRole(context.Background(), adminID,
		[]uuid.UUID{ok1, ok2, skip1, skip2, denied}, rbac.RoleHost)
	require.NoError(t, err)
	require.Equal(t, BulkOutcome{Succeeded: 2, Skipped: 2, Failed: 1}, outcome)

	// The denied target kept its role.
	target, err := repo.GetUser(context.Background(), denied)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, target.CurrentRole())
}

func TestBulkRemovePartialSuccess(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	host := repo.add(rbac.RoleHost, false)
	notHeld := repo.add(rbac.RoleParticipant, false)
	svc, _, _ := newTestService(repo)

	outcome, err := svc.BulkRemoveRole(context.Background(), superID,
		[]uuid.UUID{host, notHeld, uuid.New()}, rbac.RoleHost)
	require.NoError(t, err)
	require.Equal(t, BulkOutcome{Succeeded: 1, Skipped: 1, Failed: 1}, outcome)
}

func TestTransferOwnership(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	adminID := repo.add(rbac.RoleAdmin, false)
	svc, auditor, _ := newTestService(repo)

	require.NoError(t, svc.TransferOwnership(context.Background(), superID, adminID, true))

	newOwner, err := repo.GetUser(context.Background(), adminID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, newOwner.CurrentRole())

	oldOwner, err := repo.GetUser(context.Background(), superID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleAdmin, oldOwner.CurrentRole())

	require.Len(t, auditor.entries, 2)
	require.Equal(t, audit.ActionTransfer, auditor.entries[0].Action)
}

func TestTransferOwnershipRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	aID := repo.add(rbac.RoleSuperAdmin, false)
	bID := repo.add(rbac.RoleAdmin, false)
	svc, _, _ := newTestService(repo)

	require.NoError(t, svc.TransferOwnership(context.Background(), aID, bID, true))
	require.NoError(t, svc.TransferOwnership(context.Background(), bID, aID, true))

	a, err := repo.GetUser(context.Background(), aID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, a.CurrentRole())
	b, err := repo.GetUser(context.Background(), bID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleAdmin, b.CurrentRole())
}

func TestTransferOwnershipGuards(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	otherSuperID := repo.add(rbac.RoleSuperAdmin, false)
	adminID := repo.add(rbac.RoleAdmin, false)
	hostID := repo.add(rbac.RoleHost, false)
	blockedID := repo.add(rbac.RoleAdmin, true)
	svc, _, _ := newTestService(repo)

	require.ErrorIs(t, svc.TransferOwnership(context.Background(), adminID, superID, true), shared.ErrPermissionDenied)
	require.ErrorIs(t, svc.TransferOwnership(context.Background(), superID, superID, true), shared.ErrPermissionDenied)
	require.ErrorIs(t, svc.TransferOwnership(context.Background(), superID, otherSuperID, true), shared.ErrAlreadyInState)
	require.ErrorIs(t, svc.TransferOwnership(context.Background(), superID, blockedID, true), shared.ErrPermissionDenied)
	require.ErrorIs(t, svc.TransferOwnership(context.Background(), superID, hostID, true), shared.ErrPermissionDenied)
}

func TestTransferOwnershipKeepCurrent(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	adminID := repo.add(rbac.RoleAdmin, false)
	svc, auditor, _ := newTestService(repo)

	require.NoError(t, svc.TransferOwnership(context.Background(), superID, adminID, false))

	oldOwner, err := repo.GetUser(context.Background(), superID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, oldOwner.CurrentRole())
	newOwner, err := repo.GetUser(context.Background(), adminID)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, newOwner.CurrentRole())
	require.Len(t, auditor.entries, 1)
}

func TestTransferOwnershipConcurrent(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	svc, _, _ := newTestService(repo)

	admins := make([]uuid.UUID, 8)
	for i := range admins {
		admins[i] = repo.add(rbac.RoleAdmin, false)
	}

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for _, adminID := range admins {
		wg.Add(1)
		go func(adminID uuid.UUID) {
			defer wg.Done()
			if svc.TransferOwnership(context.Background(), superID, adminID, true) == nil {
				succeeded.Add(1)
			}
		}(adminID)
	}
	wg.Wait()

	require.EqualValues(t, 1, succeeded.Load())
	count := 0
	for _, adminID := range admins {
		u, err := repo.GetUser(context.Background(), adminID)
		require.NoError(t, err)
		if u.CurrentRole() == rbac.RoleSuperAdmin {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestSetBlockStatus(t *testing.T) {
	repo := newMemoryRepo()
	superID := repo.add(rbac.RoleSuperAdmin, false)
	adminID := repo.add(rbac.RoleAdmin, false)
	targetID := repo.add(rbac.RoleHost, false)
	svc, auditor, _ := newTestService(repo)

	require.ErrorIs(t, svc.SetBlockStatus(context.Background(), adminID, targetID, true, "spam"), shared.ErrPermissionDenied)
	require.ErrorIs(t, svc.SetBlockStatus(context.Background(), superID, superID, true, ""), shared.ErrPermissionDenied)

	require.NoError(t, svc.SetBlockStatus(context.Background(), superID, targetID, true, "spam"))
	target, err := repo.GetUser(context.Background(), targetID)
	require.NoError(t, err)
	require.True(t, target.Blocked)
	require.Equal(t, "spam", target.BlockReason)
	// Roles are untouched so an unblock restores prior access.
	require.Equal(t, rbac.RoleHost, target.CurrentRole())

	require.ErrorIs(t, svc.SetBlockStatus(context.Background(), superID, targetID, true, "again"), shared.ErrAlreadyInState)

	require.NoError(t, svc.SetBlockStatus(context.Background(), superID, targetID, false, ""))
	target, err = repo.GetUser(context.Background(), targetID)
	require.NoError(t, err)
	require.False(t, target.Blocked)
	require.Equal(t, rbac.RoleHost, target.CurrentRole())

	require.Len(t, auditor.entries, 2)
	require.Equal(t, audit.ActionBlock, auditor.entries[0].Action)
	require.Equal(t, audit.ActionUnblock, auditor.entries[1].Action)
}

func TestExportCSV(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(rbac.RoleSuperAdmin, false)
	repo.add(rbac.RoleHost, true)
	svc, _, _ := newTestService(repo)

	payload, err := svc.ExportCSV(context.Background(), ListFilter{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Name,Email,User ID,Roles,Blocked,Export Date", lines[0])
	require.Contains(t, string(payload), "Super Admin")
}
