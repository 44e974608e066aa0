// Package mocks provides mock implementations for testing the stayportal auth services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRoles := mocks.NewMockRoleStore(ctrl)
//	mockRoles.EXPECT().RoleFor(gomock.Any(), "user-1").Return(auth.RoleStaff, true, nil)
package mocks

// Generate mock for RoleStore interface from internal/ports package.
// This creates MockRoleStore with methods for all RoleStore interface methods:
// RoleFor
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=role_store_mock.go github.com/darstays/stayportal/internal/ports RoleStore

// Generate mock for ProfileStore interface from internal/ports package.
// This creates MockProfileStore with methods for all ProfileStore interface methods:
// CreateProfile
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=profile_store_mock.go github.com/darstays/stayportal/internal/ports ProfileStore

// Generate mock for AuthBackendFactory interface from internal/ports package.
// This creates MockAuthBackendFactory with methods for all AuthBackendFactory interface methods:
// ForBrowser
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=auth_backend_factory_mock.go github.com/darstays/stayportal/internal/ports AuthBackendFactory
