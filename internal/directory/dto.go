package directory

import (
	"net/http"
	"strconv"
	"strings"
)

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=participant viewer host admin super_admin"`
}

type bulkRoleRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=100,dive,uuid"`
	Role    string   `json:"role" validate:"required,oneof=participant viewer host admin super_admin"`
}

type blockRequest struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason" validate:"max=500"`
}

type transferRequest struct {
	NewOwnerID       string `json:"new_owner_id" validate:"required,uuid"`
	DowngradeCurrent bool   `json:"downgrade_current"`
}

type changeRoleResponse struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Warning string `json:"warning,omitempty"`
}

func parseListFilter(r *http.Request) ListFilter {
	q := r.URL.Query()
	filter := ListFilter{
		Search:  strings.TrimSpace(q.Get("search")),
		Role:    q.Get("role"),
		Session: q.Get("session"),
		SortBy:  q.Get("sort"),
	}
	if raw := q.Get("blocked"); raw != "" {
		if blocked, err := strconv.ParseBool(raw); err == nil {
			filter.Blocked = &blocked
		}
	}
	if q.Get("order") == "desc" {
		filter.SortDesc = true
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filter.PageSize = size
	}
	return filter
}
