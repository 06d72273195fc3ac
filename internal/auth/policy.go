package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sipico/checklist-bff/internal/storage"
)

// UserLookup reads a user's role and owner-key scope.
type UserLookup interface {
	GetUser(ctx context.Context, uid string) (*storage.User, error)
}

// Policy answers "may this identity reach resources of this owner?".
type Policy struct {
	users       UserLookup
	superAdmins map[string]bool
}

// NewPolicy creates a policy. superAdminUIDs are treated as super-admins
// regardless of their stored role.
func NewPolicy(users UserLookup, superAdminUIDs []string) *Policy {
	p := &Policy{users: users, superAdmins: make(map[string]bool, len(superAdminUIDs))}
	for _, uid := range superAdminUIDs {
		if uid != "" {
			p.superAdmins[uid] = true
		}
	}
	return p
}

// Role returns the effective role of uid. Unknown users are plain users.
func (p *Policy) Role(ctx context.Context, uid string) (string, error) {
	if p.superAdmins[uid] {
		return storage.RoleSuperAdmin, nil
	}
	u, err := p.users.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.RoleUser, nil
		}
		return "", fmt.Errorf("failed to load role: %w", err)
	}
	return u.Role, nil
}

// IsSuperAdmin reports whether uid has the super-admin role.
func (p *Policy) IsSuperAdmin(ctx context.Context, uid string) (bool, error) {
	role, err := p.Role(ctx, uid)
	if err != nil {
		return false, err
	}
	return role == storage.RoleSuperAdmin, nil
}

// Scope returns a predicate over owner keys for uid. Super-admins reach
// every owner; admins reach the owners in their allow-list; everyone else
// reaches nothing.
func (p *Policy) Scope(ctx context.Context, uid string) (func(ownerKey string) bool, error) {
	if p.superAdmins[uid] {
		return func(string) bool { return true }, nil
	}
	u, err := p.users.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return func(string) bool { return false }, nil
		}
		return nil, fmt.Errorf("failed to load access scope: %w", err)
	}

	switch u.Role {
	case storage.RoleSuperAdmin:
		return func(string) bool { return true }, nil
	case storage.RoleAdmin:
		keys := slices.Clone(u.AllowedOwnerKeys)
		return func(ownerKey string) bool { return slices.Contains(keys, ownerKey) }, nil
	default:
		return func(string) bool { return false }, nil
	}
}

// CanAccess reports whether uid may reach resources owned by ownerKey.
func (p *Policy) CanAccess(ctx context.Context, uid, ownerKey string) (bool, error) {
	allow, err := p.Scope(ctx, uid)
	if err != nil {
		return false, err
	}
	return allow(ownerKey), nil
}
