package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/mailtasks/internal/model"
)

// ErrAlreadyRecorded is returned by RecordExtraction when the message
// already has a ledger entry. Nothing is written in that case.
var ErrAlreadyRecorded = errors.New("message already recorded")

// IsProcessed reports whether a ledger entry exists for the given account
// and message, regardless of its status.
func (s *SQLiteStore) IsProcessed(
	ctx context.Context,
	accountID, messageID string,
) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_messages WHERE account_id = ? AND message_id = ?",
		accountID, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("checking ledger for %s/%s: %w", accountID, messageID, err)
	}
	return count > 0, nil
}

// ProcessedIDs returns the subset of messageIDs that already have a ledger
// entry for accountID.
func (s *SQLiteStore) ProcessedIDs(
	ctx context.Context,
	accountID string,
	messageIDs []string,
) (map[string]bool, error) {
	processed := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return processed, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]interface{}, 0, len(messageIDs)+1)
	args = append(args, accountID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT message_id FROM processed_messages WHERE account_id = ? AND message_id IN ("+
			placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger for %s: %w", accountID, err)
	}

	for _, id := range ids {
		processed[id] = true
	}
	return processed, nil
}

// MarkProcessed records a ledger entry. An existing entry for the same
// (account, message) pair is left untouched.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, entry model.LedgerEntry) error {
	if entry.Status == "" {
		entry.Status = model.LedgerExtracted
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (account_id, message_id, task_count, status, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, message_id) DO NOTHING`,
		entry.AccountID, entry.MessageID, entry.TaskCount,
		string(entry.Status), entry.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("marking %s/%s processed: %w", entry.AccountID, entry.MessageID, err)
	}
	return nil
}

// RecordExtraction stores a message's tasks and its extracted ledger entry
// in one transaction. Either all of them are written or none are.
func (s *SQLiteStore) RecordExtraction(
	ctx context.Context,
	entry model.LedgerEntry,
	tasks []model.Task,
) ([]model.Task, error) {
	entry.Status = model.LedgerExtracted
	entry.TaskCount = len(tasks)
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_messages (account_id, message_id, task_count, status, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, message_id) DO NOTHING`,
		entry.AccountID, entry.MessageID, entry.TaskCount,
		string(entry.Status), entry.ProcessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("marking %s/%s processed: %w", entry.AccountID, entry.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("marking %s/%s processed: %w", entry.AccountID, entry.MessageID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyRecorded, entry.AccountID, entry.MessageID)
	}

	stored := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		task, err := insertTask(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		stored = append(stored, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing %s/%s: %w", entry.AccountID, entry.MessageID, err)
	}
	return stored, nil
}

// ClearProcessed removes every ledger entry for accountID and returns the
// number of entries removed.
func (s *SQLiteStore) ClearProcessed(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE account_id = ?", accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("clearing ledger for %s: %w", accountID, err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only the failed ledger entries for accountID.
func (s *SQLiteStore) ClearFailed(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE account_id = ? AND status = ?",
		accountID, string(model.LedgerFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("clearing failed ledger entries for %s: %w", accountID, err)
	}
	return res.RowsAffected()
}

// GetLedger returns every ledger entry for accountID, newest first.
func (s *SQLiteStore) GetLedger(
	ctx context.Context,
	accountID string,
) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT account_id, message_id, task_count, status, processed_at
		FROM processed_messages
		WHERE account_id = ?
		ORDER BY processed_at DESC, message_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger for %s: %w", accountID, err)
	}
	return entries, nil
}
