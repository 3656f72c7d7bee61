package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeMemberships struct {
	role Role
	err  error
}

func (f fakeMemberships) MembershipRole(context.Context, uuid.UUID, uuid.UUID) (Role, error) {
	return f.role, f.err
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" Owner ")
	require.True(t, ok)
	require.Equal(t, RoleOwner, role)

	_, ok = ParseRole("root")
	require.False(t, ok)
}

func TestAtLeast(t *testing.T) {
	require.True(t, AtLeast(RoleOwner, RoleAdmin))
	require.True(t, AtLeast(RoleAdmin, RoleAdmin))
	require.False(t, AtLeast(RoleViewer, RoleAdmin))
	require.False(t, AtLeast(RoleUser, RoleViewer))
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	tenant, user := uuid.New(), uuid.New()

	role, err := Ensure(ctx, fakeMemberships{role: RoleAdmin}, tenant, user, RoleViewer)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, role)

	_, err = Ensure(ctx, fakeMemberships{role: RoleUser}, tenant, user, RoleAdmin)
	require.ErrorIs(t, err, ErrForbidden)

	boom := errors.New("boom")
	_, err = Ensure(ctx, fakeMemberships{err: boom}, tenant, user, RoleAdmin)
	require.ErrorIs(t, err, boom)
}
