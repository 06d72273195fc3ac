package storage

import "context"

// Storage is the persistence contract consumed by the HTTP and reconciler
// layers. *Store implements it.
type Storage interface {
	// Users
	EnsureUser(ctx context.Context, uid, email string) (*User, error)
	GetUser(ctx context.Context, uid string) (*User, error)
	ListPrivilegedUsers(ctx context.Context) ([]*User, error)
	SetAccess(ctx context.Context, uid, role string, ownerKeys []string) error
	ApplyEntitlement(ctx context.Context, uid string, patch EntitlementPatch) error

	// Files
	CreateFile(ctx context.Context, f *FileRecord) error
	GetFile(ctx context.Context, fileID string) (*FileRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

var _ Storage = (*Store)(nil)
