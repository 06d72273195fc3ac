package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sipico/checklist-bff/internal/storage"
)

// AccessStore reads and writes user access.
type AccessStore interface {
	UserLookup
	SetAccess(ctx context.Context, uid, role string, ownerKeys []string) error
}

// BootstrapSuperAdmins persists the super-admin role for every configured
// uid, so the first operator can grant access through the portal before any
// role exists in the database. Existing super-admins are left untouched.
func BootstrapSuperAdmins(ctx context.Context, store AccessStore, uids []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, uid := range uids {
		if uid == "" {
			continue
		}
		u, err := store.GetUser(ctx, uid)
		if err == nil && u.Role == storage.RoleSuperAdmin {
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("bootstrap %s: %w", uid, err)
		}
		if err := store.SetAccess(ctx, uid, storage.RoleSuperAdmin, nil); err != nil {
			return fmt.Errorf("bootstrap %s: %w", uid, err)
		}
		logger.Info("super-admin bootstrapped", "uid", uid)
	}
	return nil
}
