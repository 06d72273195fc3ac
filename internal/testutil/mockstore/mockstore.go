// Package mockstore provides a configurable mock implementation of storage interfaces for testing.
//
// The MockStorage type uses function fields for each method, allowing tests to customize behavior
// as needed while providing sensible defaults for methods that aren't customized.
package mockstore

import (
	"context"

	"github.com/sipico/checklist-bff/internal/storage"
)

// MockStorage is a configurable mock implementation of storage.Storage.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a sensible default value.
type MockStorage struct {
	// User operations
	EnsureUserFunc          func(ctx context.Context, uid, email string) (*storage.User, error)
	GetUserFunc             func(ctx context.Context, uid string) (*storage.User, error)
	ListPrivilegedUsersFunc func(ctx context.Context) ([]*storage.User, error)
	SetAccessFunc           func(ctx context.Context, uid, role string, ownerKeys []string) error
	ApplyEntitlementFunc    func(ctx context.Context, uid string, patch storage.EntitlementPatch) error

	// File operations
	CreateFileFunc func(ctx context.Context, f *storage.FileRecord) error
	GetFileFunc    func(ctx context.Context, fileID string) (*storage.FileRecord, error)

	// Lifecycle
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ storage.Storage = (*MockStorage)(nil)

// EnsureUser creates or refreshes a user.
func (m *MockStorage) EnsureUser(ctx context.Context, uid, email string) (*storage.User, error) {
	if m.EnsureUserFunc != nil {
		return m.EnsureUserFunc(ctx, uid, email)
	}
	return &storage.User{UID: uid, Email: email, Role: storage.RoleUser, AllowedOwnerKeys: []string{}}, nil
}

// GetUser retrieves a user by uid.
func (m *MockStorage) GetUser(ctx context.Context, uid string) (*storage.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, uid)
	}
	return nil, storage.ErrNotFound
}

// ListPrivilegedUsers lists admins and super-admins.
func (m *MockStorage) ListPrivilegedUsers(ctx context.Context) ([]*storage.User, error) {
	if m.ListPrivilegedUsersFunc != nil {
		return m.ListPrivilegedUsersFunc(ctx)
	}
	return []*storage.User{}, nil
}

// SetAccess sets role and owner-key scope.
func (m *MockStorage) SetAccess(ctx context.Context, uid, role string, ownerKeys []string) error {
	if m.SetAccessFunc != nil {
		return m.SetAccessFunc(ctx, uid, role, ownerKeys)
	}
	return nil
}

// ApplyEntitlement applies an entitlement patch.
func (m *MockStorage) ApplyEntitlement(ctx context.Context, uid string, patch storage.EntitlementPatch) error {
	if m.ApplyEntitlementFunc != nil {
		return m.ApplyEntitlementFunc(ctx, uid, patch)
	}
	return storage.ErrNotFound
}

// CreateFile records an uploaded file.
func (m *MockStorage) CreateFile(ctx context.Context, f *storage.FileRecord) error {
	if m.CreateFileFunc != nil {
		return m.CreateFileFunc(ctx, f)
	}
	return nil
}

// GetFile retrieves a file record.
func (m *MockStorage) GetFile(ctx context.Context, fileID string) (*storage.FileRecord, error) {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, fileID)
	}
	return nil, storage.ErrNotFound
}

// Ping checks connectivity.
func (m *MockStorage) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close closes the store.
func (m *MockStorage) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
