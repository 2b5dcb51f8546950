package ports_test

import (
	"testing"

	"github.com/agromarket/marketgate/internal/adapters/authroles"
	"github.com/agromarket/marketgate/internal/adapters/memory"
	"github.com/agromarket/marketgate/internal/mocks"
	"github.com/agromarket/marketgate/internal/ports"
	"github.com/agromarket/marketgate/internal/session"
)

// This test only verifies that mocks and adapters conform to the ports at compile time.
func TestImplementationsSatisfyPorts(t *testing.T) {
	t.Helper()

	var _ ports.RoleCache = (*mocks.MockRoleCache)(nil)
	var _ ports.RoleLookup = (*mocks.MockRoleLookup)(nil)
	var _ ports.Authenticator = (*mocks.MockAuthenticator)(nil)
	var _ ports.RoleCache = (*memory.RoleCache)(nil)
	var _ ports.RoleMapper = authroles.StaticRoleMapper{}
	var _ ports.SessionStore = (*session.Store)(nil)
}
