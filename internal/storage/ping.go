package storage

import (
	"context"
	"fmt"
)

// Ping verifies database connectivity with "SELECT 1". It backs the
// readiness endpoints and avoids touching any table.
func (s *Store) Ping(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("database ping returned unexpected result: %d", result)
	}
	return nil
}
