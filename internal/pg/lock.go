package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TryLockRefresh records holder as the refresh owner unless another holder took the
// lock less than the lock TTL ago. It never waits.
func (s *Store) TryLockRefresh(ctx context.Context, holder string) (bool, error) {
	var id int
	err := s.pool.QueryRow(ctx, `
UPDATE refresh_lock
SET locked = true, locked_at = now(), holder = $2
WHERE id = 1 AND (NOT locked OR locked_at IS NULL OR locked_at < now() - make_interval(secs => $1))
RETURNING id`, s.lockTTL.Seconds(), holder).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock refresh: %w", err)
	}
	return true, nil
}

// UnlockRefresh clears the refresh flag if holder still owns it. A holder whose lock
// expired and was taken over leaves the new owner's lock in place.
func (s *Store) UnlockRefresh(ctx context.Context, holder string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE refresh_lock
SET locked = false, locked_at = NULL, holder = NULL
WHERE id = 1 AND holder = $1`, holder)
	if err != nil {
		return fmt.Errorf("unlock refresh: %w", err)
	}
	return nil
}
