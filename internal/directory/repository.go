package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engagetrack/engagetrack/internal/platform/db"
	"github.com/engagetrack/engagetrack/internal/rbac"
	"github.com/engagetrack/engagetrack/internal/shared"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the user directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

const userColumns = `
	p.user_id, p.email, p.full_name, p.is_blocked, p.blocked_at, p.block_reason,
	p.last_login_at, p.created_at,
	COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles`

const userGroupBy = `
	GROUP BY p.user_id, p.email, p.full_name, p.is_blocked, p.blocked_at, p.block_reason,
	         p.last_login_at, p.created_at`

func scanUser(row pgx.Row) (UserAccount, error) {
	var u UserAccount
	var rawRoles []string
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Blocked, &u.BlockedAt, &u.BlockReason,
		&u.LastLoginAt, &u.CreatedAt, &rawRoles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAccount{}, shared.ErrNotFound
		}
		return UserAccount{}, fmt.Errorf("directory: scan user: %w", err)
	}
	u.Roles = make([]rbac.Role, 0, len(rawRoles))
	for _, raw := range rawRoles {
		u.Roles = append(u.Roles, rbac.Role(raw))
	}
	return u, nil
}

// GetUser loads one directory row with its role set.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error) {
	return getUser(ctx, r.pool, id)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUser(ctx context.Context, q queryer, id uuid.UUID) (UserAccount, error) {
	row := q.QueryRow(ctx, `
		SELECT`+userColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.user_id
		WHERE p.user_id = $1`+userGroupBy, id)
	return scanUser(row)
}

// WithUserTx runs fn inside a transaction that holds a per-user advisory lock
// for every target, so the policy decision and the write cannot interleave
// with a concurrent mutation of the same user. Locks are acquired in sorted
// order to avoid deadlocks between multi-target transactions.
func (r *Repository) WithUserTx(ctx context.Context, targetIDs []uuid.UUID, fn func(context.Context, TxRepositoryPort) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		ids := append([]uuid.UUID(nil), targetIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id.String()); err != nil {
				return fmt.Errorf("directory: advisory lock: %w", err)
			}
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (t *txRepository) GetUser(ctx context.Context, id uuid.UUID) (UserAccount, error) {
	return getUser(ctx, t.tx, id)
}

// SetUserRole replaces the target's role set with the single resulting role.
func (t *txRepository) SetUserRole(ctx context.Context, id uuid.UUID, role rbac.Role) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("directory: clear roles: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, id, string(role)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return shared.ErrAlreadyInState
		}
		return fmt.Errorf("directory: insert role: %w", err)
	}
	return nil
}

// SetBlockStatus flips the blocked flag and metadata without touching roles.
func (t *txRepository) SetBlockStatus(ctx context.Context, id uuid.UUID, blocked bool, reason string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE profiles
		SET is_blocked = $2,
		    blocked_at = CASE WHEN $2 THEN NOW() ELSE NULL END,
		    block_reason = CASE WHEN $2 THEN $3 ELSE '' END
		WHERE user_id = $1`, id, blocked, reason)
	if err != nil {
		return fmt.Errorf("directory: set block status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountSuperAdmins counts distinct holders of super_admin inside the
// transaction, after any pending writes.
func (t *txRepository) CountSuperAdmins(ctx context.Context) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM user_roles WHERE role = $1`,
		string(rbac.RoleSuperAdmin)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("directory: count super admins: %w", err)
	}
	return count, nil
}

// ListUsers returns one page of the directory plus the total match count.
func (r *Repository) ListUsers(ctx context.Context, filter ListFilter) ([]UserAccount, int, error) {
	where, args := buildListWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM profiles p` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("directory: count users: %w", err)
	}

	limit := filter.PageSize
	if limit <= 0 {
		limit = 10
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `
		SELECT` + userColumns + `
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.user_id` +
		where + userGroupBy +
		` ORDER BY ` + listOrder(filter) +
		fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("directory: list users: %w", err)
	}
	defer rows.Close()

	var users []UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("directory: rows: %w", err)
	}
	return users, total, nil
}

// ListStaleAccounts returns accounts whose last login predates the cutoff,
// or that never logged in.
func (r *Repository) ListStaleAccounts(ctx context.Context, cutoff time.Time) ([]UserAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+userColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.user_id
		WHERE p.last_login_at IS NULL OR p.last_login_at < $1`+userGroupBy+`
		ORDER BY p.last_login_at NULLS FIRST`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("directory: list stale accounts: %w", err)
	}
	defer rows.Close()

	var users []UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: rows: %w", err)
	}
	return users, nil
}

func buildListWhere(filter ListFilter) (string, []any) {
	var clauses []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		p := arg("%" + strings.ToLower(search) + "%")
		clauses = append(clauses, fmt.Sprintf("(LOWER(p.email) LIKE %s OR LOWER(p.full_name) LIKE %s)", p, p))
	}
	switch filter.Role {
	case "", "all":
	case "no-roles":
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = p.user_id)")
	default:
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = p.user_id AND ur.role = %s)", arg(filter.Role)))
	}
	if filter.Blocked != nil {
		clauses = append(clauses, fmt.Sprintf("p.is_blocked = %s", arg(*filter.Blocked)))
	}

	now := time.Now().UTC()
	expired := now.Add(-SessionExpiry)
	expiring := now.Add(-(SessionExpiry - 24*time.Hour))
	switch filter.Session {
	case "", "all":
	case string(SessionNever):
		clauses = append(clauses, "p.last_login_at IS NULL")
	case string(SessionExpired):
		clauses = append(clauses, fmt.Sprintf("p.last_login_at IS NOT NULL AND p.last_login_at <= %s", arg(expired)))
	case string(SessionExpiring):
		clauses = append(clauses, fmt.Sprintf("p.last_login_at > %s AND p.last_login_at <= %s", arg(expired), arg(expiring)))
	case string(SessionActive):
		clauses = append(clauses, fmt.Sprintf("p.last_login_at > %s", arg(expiring)))
	case "inactive":
		clauses = append(clauses, fmt.Sprintf("(p.last_login_at IS NULL OR p.last_login_at <= %s)", arg(expired)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func listOrder(filter ListFilter) string {
	dir := "ASC"
	nulls := ""
	if filter.SortDesc {
		dir = "DESC"
	}
	var col string
	switch filter.SortBy {
	case "email":
		col = "p.email"
	case "roles":
		col = "COUNT(r.role)"
	case "last_login":
		col = "p.last_login_at"
		if filter.SortDesc {
			nulls = " NULLS LAST"
		} else {
			nulls = " NULLS FIRST"
		}
	default:
		col = "p.full_name"
	}
	return col + " " + dir + nulls
}
