package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	role, err := Parse("  Super_Admin ")
	require.NoError(t, err)
	require.Equal(t, RoleSuperAdmin, role)

	_, err = Parse("owner")
	require.Error(t, err)
}

func TestHighest(t *testing.T) {
	require.Equal(t, RoleSuperAdmin, Highest([]Role{RoleViewer, RoleSuperAdmin, RoleHost}))
	require.Equal(t, RoleHost, Highest([]Role{RoleParticipant, RoleHost}))
	// Empty set collapses to the baseline access level.
	require.Equal(t, RoleParticipant, Highest(nil))
	require.Equal(t, RoleViewer, Highest([]Role{RoleViewer}))
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Super Admin", RoleSuperAdmin.DisplayName())
	require.Equal(t, "Participant", RoleParticipant.DisplayName())
}

func TestDowngradeTarget(t *testing.T) {
	require.Equal(t, RoleParticipant, DowngradeTarget(RoleHost))
	require.Equal(t, RoleParticipant, DowngradeTarget(RoleAdmin))
	require.Equal(t, RoleAdmin, DowngradeTarget(RoleSuperAdmin))
	require.Equal(t, RoleParticipant, DowngradeTarget(RoleViewer))
}
