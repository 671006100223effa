// Package mocks provides gomock mocks for the ports in internal/ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	sessions := mocks.NewMockSessionController(ctrl)
//	sessions.EXPECT().Login(gomock.Any(), "ed@driptech.example", "pw").Return(true)
package mocks

// Generate mocks for the outbound auth ports and the inbound session controller port.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/driptech/admin-session/internal/ports AuthBackend,RoleResolver,Notifier,SessionStore,SessionController
