package authroles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(map[string]string{
		"dev-admin": "super_admin",
		"u2":        " Editor | admin ",
		"u3":        "viewer",
		" ":         "admin",
	})
	ctx := context.Background()

	roles, err := r.Roles(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleEditor, domainauth.RoleAdmin}, roles)

	roles, err = r.Roles(ctx, "u3")
	require.NoError(t, err)
	_, ok := domainauth.HighestRole(roles)
	assert.False(t, ok)

	roles, err = r.Roles(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, roles)

	assert.Equal(t, []string{"dev-admin", "u2", "u3"}, r.Users())
}

func TestStaticResolver_ReturnsCopy(t *testing.T) {
	r := NewStaticResolver(map[string]string{"u": "admin"})
	roles, _ := r.Roles(context.Background(), "u")
	roles[0] = domainauth.RoleEditor
	again, _ := r.Roles(context.Background(), "u")
	assert.Equal(t, domainauth.RoleAdmin, again[0])
}
