// Package mocks provides gomock implementations of the ports in internal/ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	lookup := mocks.NewMockRoleLookup(ctrl)
//	lookup.EXPECT().LookupRole(gomock.Any(), gomock.Any()).Return(domainauth.RoleFarmer, nil)
package mocks

// Generate mocks for the role resolution ports.
// This creates MockRoleCache (Get, Set, Delete), MockRoleLookup (LookupRole) and
// MockAuthenticator (SignIn).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/agromarket/marketgate/internal/ports RoleCache,RoleLookup,Authenticator
