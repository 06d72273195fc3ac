package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const userColumns = `uid, email, role, allowed_owner_keys, plan, authorized, expires_at,
	allowed_access_count, approved_at, payment_gateway, payment_id, payment_status,
	payment_gross, payment_net, payment_fees, created_at, updated_at`

// EnsureUser creates the user record on first sight and refreshes the email
// on later calls, bumping updated_at only when the email changes. Role,
// access and entitlement are left untouched.
func (s *Store) EnsureUser(ctx context.Context, uid, email string) (*User, error) {
	if uid == "" {
		return nil, fmt.Errorf("ensure user: empty uid")
	}
	now := s.now().UnixMilli()

	query := s.rebind(`INSERT INTO users (uid, email, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			updated_at = CASE WHEN excluded.email <> '' AND excluded.email <> users.email
				THEN excluded.updated_at ELSE users.updated_at END`)
	if _, err := s.db.ExecContext(ctx, query, uid, email, now, now); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	return s.GetUser(ctx, uid)
}

// GetUser retrieves a user by uid. Returns ErrNotFound if absent.
func (s *Store) GetUser(ctx context.Context, uid string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE uid = ?"), uid)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListPrivilegedUsers returns every admin and super-admin, ordered by uid.
func (s *Store) ListPrivilegedUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+userColumns+" FROM users WHERE role IN (?, ?) ORDER BY uid"),
		RoleAdmin, RoleSuperAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() {
		//nolint:errcheck
		rows.Close()
	}()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// SetAccess sets the role and owner-key scope of uid, creating a bare record
// if the user has not signed in yet.
func (s *Store) SetAccess(ctx context.Context, uid, role string, ownerKeys []string) error {
	if !ValidRole(role) {
		return fmt.Errorf("set access: invalid role %q", role)
	}
	if ownerKeys == nil {
		ownerKeys = []string{}
	}
	keys, err := json.Marshal(ownerKeys)
	if err != nil {
		return fmt.Errorf("failed to encode owner keys: %w", err)
	}
	now := s.now().UnixMilli()

	query := s.rebind(`INSERT INTO users (uid, role, allowed_owner_keys, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			role = excluded.role,
			allowed_owner_keys = excluded.allowed_owner_keys,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, uid, role, string(keys), now, now); err != nil {
		return fmt.Errorf("failed to set access: %w", err)
	}
	return nil
}

// ApplyEntitlement writes patch to uid in a single statement. The write is
// skipped when a newer approval is already recorded (ErrStale) or the user
// does not exist (ErrNotFound). updated_at moves forward to the approval
// instant, never back, so re-applying an identical patch succeeds and leaves
// the record unchanged.
func (s *Store) ApplyEntitlement(ctx context.Context, uid string, patch EntitlementPatch) error {
	approvedAt := patch.ApprovedAt.UnixMilli()

	query := s.rebind(`UPDATE users SET
			authorized = ?,
			plan = ?,
			allowed_access_count = ?,
			expires_at = ?,
			approved_at = ?,
			payment_gateway = ?,
			payment_id = ?,
			payment_status = ?,
			payment_gross = ?,
			payment_net = ?,
			payment_fees = ?,
			updated_at = CASE WHEN updated_at < ? THEN ? ELSE updated_at END
		WHERE uid = ? AND (approved_at IS NULL OR approved_at <= ?)`)

	res, err := s.db.ExecContext(ctx, query,
		true,
		patch.Plan,
		patch.AllowedAccessCount,
		patch.ExpiresAt.UnixMilli(),
		approvedAt,
		patch.Payment.Gateway,
		patch.Payment.PaymentID,
		patch.Payment.Status,
		patch.Payment.Gross,
		patch.Payment.Net,
		patch.Payment.Fees,
		approvedAt, approvedAt,
		uid,
		approvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to apply entitlement: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: tell a missing user from a newer approval.
	if _, err := s.GetUser(ctx, uid); err != nil {
		return err
	}
	return ErrStale
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                     User
		ownerKeys             string
		expiresAt, approvedAt sql.NullInt64
		createdAt, updatedAt  int64
	)
	err := row.Scan(
		&u.UID, &u.Email, &u.Role, &ownerKeys,
		&u.Entitlement.Plan, &u.Entitlement.Authorized, &expiresAt,
		&u.Entitlement.AllowedAccessCount, &approvedAt,
		&u.Entitlement.Payment.Gateway, &u.Entitlement.Payment.PaymentID, &u.Entitlement.Payment.Status,
		&u.Entitlement.Payment.Gross, &u.Entitlement.Payment.Net, &u.Entitlement.Payment.Fees,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ownerKeys), &u.AllowedOwnerKeys); err != nil {
		return nil, fmt.Errorf("failed to decode owner keys: %w", err)
	}
	u.Entitlement.ExpiresAt = fromMillis(expiresAt)
	u.Entitlement.ApprovedAt = fromMillis(approvedAt)
	u.CreatedAt = fromMillis(sql.NullInt64{Int64: createdAt, Valid: true})
	u.UpdatedAt = fromMillis(sql.NullInt64{Int64: updatedAt, Valid: true})
	return &u, nil
}
