package authroles

import (
	"fmt"
	"strings"

	domainauth "github.com/agromarket/marketgate/internal/domain/auth"
)

// StaticRoleMapper maps raw role spellings onto canonical roles.
// Aliases are consulted first, keyed by lower-cased spelling; everything else
// goes through domainauth.NormalizeRole.
type StaticRoleMapper struct {
	Aliases map[string]domainauth.Role
}

// NewStaticRoleMapper builds a mapper from an alias table such as
// {"grower": "FARMER"}. Targets must normalise to a known role.
func NewStaticRoleMapper(aliases map[string]string) (StaticRoleMapper, error) {
	m := StaticRoleMapper{Aliases: make(map[string]domainauth.Role, len(aliases))}
	for from, to := range aliases {
		role := domainauth.NormalizeRole(to)
		if !role.Known() {
			return StaticRoleMapper{}, fmt.Errorf("role alias %q: unknown target role %q", from, to)
		}
		key := strings.ToLower(strings.TrimSpace(from))
		if key == "" {
			return StaticRoleMapper{}, fmt.Errorf("role alias for %q has an empty name", to)
		}
		m.Aliases[key] = role
	}
	return m, nil
}

func (m StaticRoleMapper) Map(raw string) domainauth.Role {
	if len(m.Aliases) > 0 {
		if role, ok := m.Aliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
			return role
		}
	}
	return domainauth.NormalizeRole(raw)
}
