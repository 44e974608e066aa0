package authroles

import (
	"context"
	"fmt"
	"strings"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
)

// StaticRoleStore answers role lookups from a fixed table, for local development
// without Postgres.
type StaticRoleStore struct {
	roles map[string]domainauth.Role
}

// NewStaticRoleStore copies roles keyed by user id.
func NewStaticRoleStore(roles map[string]domainauth.Role) *StaticRoleStore {
	cp := make(map[string]domainauth.Role, len(roles))
	for id, r := range roles {
		cp[id] = r
	}
	return &StaticRoleStore{roles: cp}
}

// ParseSeeds parses "key=role" pairs. resolveID maps the key (typically an email) to a
// user id.
func ParseSeeds(seeds []string, resolveID func(string) string) (*StaticRoleStore, error) {
	roles := make(map[string]domainauth.Role, len(seeds))
	for _, seed := range seeds {
		key, raw, ok := strings.Cut(seed, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid role seed %q: want key=role", seed)
		}
		role, valid := domainauth.ParseRole(raw)
		if !valid {
			return nil, fmt.Errorf("invalid role seed %q: unknown role", seed)
		}
		roles[resolveID(strings.TrimSpace(key))] = role
	}
	return &StaticRoleStore{roles: roles}, nil
}

func (s *StaticRoleStore) RoleFor(_ context.Context, userID string) (domainauth.Role, bool, error) {
	role, ok := s.roles[userID]
	return role, ok, nil
}
