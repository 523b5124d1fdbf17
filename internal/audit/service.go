package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engagetrack/engagetrack/internal/rbac"
)

// RepositoryPort describes the persistence methods used by Service.
type RepositoryPort interface {
	Insert(ctx context.Context, entry Entry) error
	ListWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}

// Service records role changes and serves the audit timeline.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record appends an entry. Best effort: failures are logged and swallowed so
// an audit outage never rolls back the role change it describes.
func (s *Service) Record(ctx context.Context, actorID, targetID uuid.UUID, action Action, role rbac.Role, note string) {
	entry := Entry{
		ID:       uuid.New(),
		ActorID:  actorID,
		TargetID: targetID,
		Action:   action,
		Role:     role,
		Note:     note,
		At:       time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", string(action)),
			slog.String("target", targetID.String()),
			slog.Any("error", err))
	}
}

// Timeline returns audit entries with paging, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.ListWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

func rbacRole(raw string) rbac.Role {
	role, err := rbac.Parse(raw)
	if err != nil {
		return rbac.Role(raw)
	}
	return role
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
