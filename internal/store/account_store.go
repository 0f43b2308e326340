package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailtasks/internal/model"
)

// UpsertAccount inserts or replaces an account. If the account has no ID,
// a new UUID is generated. The stored account is returned.
func (s *SQLiteStore) UpsertAccount(
	ctx context.Context,
	acct model.Account,
) (model.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	settings, err := json.Marshal(acct.Settings)
	if err != nil {
		return model.Account{}, fmt.Errorf("marshaling account settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, provider, address, display_name, active, settings, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			address = excluded.address,
			display_name = excluded.display_name,
			active = excluded.active,
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		acct.ID, string(acct.Provider), acct.Address, acct.DisplayName,
		boolToInt(acct.Active), string(settings),
		acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("upserting account %s: %w", acct.ID, err)
	}

	return acct, nil
}

// GetAccount retrieves a single account by ID. It returns ErrNotFound if
// no such account exists.
func (s *SQLiteStore) GetAccount(
	ctx context.Context,
	id string,
) (*model.Account, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM accounts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("getting account %s: %w", id, err)
		}
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	acct, err := scanAccount(rows)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccounts retrieves all linked accounts ordered by display name.
func (s *SQLiteStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM accounts ORDER BY display_name, address",
	)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	return accounts, rows.Err()
}

// SetAccountActive enables or disables an account.
func (s *SQLiteStore) SetAccountActive(
	ctx context.Context,
	id string,
	active bool,
) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanAccount scans an account row from a sqlx.Rows result set.
func scanAccount(rows *sqlx.Rows) (model.Account, error) {
	var (
		acct     model.Account
		provider string
		active   int
		settings string
	)

	err := rows.Scan(
		&acct.ID, &provider, &acct.Address, &acct.DisplayName,
		&active, &settings, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("scanning account row: %w", err)
	}

	acct.Provider = model.Provider(provider)
	acct.Active = active != 0

	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &acct.Settings); err != nil {
			return model.Account{}, fmt.Errorf("unmarshaling account settings: %w", err)
		}
	}

	return acct, nil
}

// IsNotFound reports whether err (or any error in its chain) is ErrNotFound
// or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
