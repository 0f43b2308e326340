package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimRun takes the run claim for accountID on behalf of owner until the
// given time. It succeeds when no claim exists or the existing one expired
// before now, and reports false when another owner holds a live claim.
func (s *SQLiteStore) ClaimRun(
	ctx context.Context,
	accountID, owner string,
	now, until time.Time,
) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_claims (account_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE run_claims.expires_at < ?`,
		accountID, owner, until.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claiming run for %s: %w", accountID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming run for %s: %w", accountID, err)
	}
	return n == 1, nil
}

// ExtendRun moves the expiry of owner's claim on accountID. It is a no-op
// when owner no longer holds the claim.
func (s *SQLiteStore) ExtendRun(
	ctx context.Context,
	accountID, owner string,
	until time.Time,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE run_claims SET expires_at = ? WHERE account_id = ? AND owner = ?",
		until.UnixMilli(), accountID, owner,
	)
	if err != nil {
		return fmt.Errorf("extending run claim for %s: %w", accountID, err)
	}
	return nil
}

// ReleaseRun drops owner's claim on accountID.
func (s *SQLiteStore) ReleaseRun(ctx context.Context, accountID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM run_claims WHERE account_id = ? AND owner = ?",
		accountID, owner,
	)
	if err != nil {
		return fmt.Errorf("releasing run claim for %s: %w", accountID, err)
	}
	return nil
}
