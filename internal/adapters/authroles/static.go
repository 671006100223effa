package authroles

// Package authroles resolves the privileged roles a user holds.

import (
	"context"
	"sort"
	"strings"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.RoleResolver = StaticResolver{}

// StaticResolver maps user IDs to roles from configuration.
// Values may list several roles separated by '|', e.g. "admin|editor".
type StaticResolver struct {
	roles map[string][]domainauth.Role
}

// NewStaticResolver parses AUTH_STATIC_ROLES style input.
func NewStaticResolver(m map[string]string) StaticResolver {
	out := make(map[string][]domainauth.Role, len(m))
	for user, list := range m {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		for _, part := range strings.Split(list, "|") {
			if r := domainauth.ParseRole(part); r != "" {
				out[user] = append(out[user], r)
			}
		}
	}
	return StaticResolver{roles: out}
}

func (s StaticResolver) Roles(_ context.Context, userID string) ([]domainauth.Role, error) {
	roles := s.roles[userID]
	if len(roles) == 0 {
		return nil, nil
	}
	return append([]domainauth.Role(nil), roles...), nil
}

// Users lists the configured user IDs in sorted order.
func (s StaticResolver) Users() []string {
	users := make([]string, 0, len(s.roles))
	for u := range s.roles {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
