package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engagetrack/engagetrack/internal/rbac"
)

func TestSessionStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		lastLogin *time.Time
		want      SessionStatus
	}{
		{"never logged in", nil, SessionNever},
		{"fresh login", ptrTime(now.Add(-time.Hour)), SessionActive},
		{"just before final day", ptrTime(now.Add(-6*24*time.Hour + time.Minute)), SessionActive},
		{"exactly six days ago", ptrTime(now.Add(-6 * 24 * time.Hour)), SessionExpiring},
		{"inside last day of window", ptrTime(now.Add(-SessionExpiry + 12*time.Hour)), SessionExpiring},
		{"exactly at window", ptrTime(now.Add(-SessionExpiry)), SessionExpired},
		{"long expired", ptrTime(now.Add(-30 * 24 * time.Hour)), SessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := UserAccount{LastLoginAt: tc.lastLogin}
			require.Equal(t, tc.want, u.SessionStatusAt(now, SessionExpiry))
		})
	}
}

func TestCurrentRoleAndHasRole(t *testing.T) {
	u := UserAccount{Roles: []rbac.Role{rbac.RoleViewer, rbac.RoleAdmin}}
	require.Equal(t, rbac.RoleAdmin, u.CurrentRole())
	require.True(t, u.HasRole(rbac.RoleViewer))
	require.False(t, u.HasRole(rbac.RoleHost))

	empty := UserAccount{}
	require.Equal(t, rbac.RoleParticipant, empty.CurrentRole())
}

func ptrTime(t time.Time) *time.Time { return &t }
