package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role_audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry. The table is append-only; nothing updates or
// deletes rows.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_audit_logs (id, actor_id, target_id, action, role, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		entry.ID, entry.ActorID, entry.TargetID, string(entry.Action), string(entry.Role), entry.Note, nullableTime(entry.At))
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ListWindow returns up to limit entries matching the filters, newest first.
func (r *Repository) ListWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, target_id, action, role, note, created_at
		FROM role_audit_logs
		WHERE ($1::uuid IS NULL OR actor_id = $1)
		  AND ($2::uuid IS NULL OR target_id = $2)
		  AND ($3::text IS NULL OR action = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`,
		nullableUUID(filters.ActorID), nullableUUID(filters.TargetID), nullableText(string(filters.Action)),
		nullableTime(filters.From), nullableTime(filters.To), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action, role string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TargetID, &action, &role, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Action = Action(action)
		e.Role = rbacRole(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}
