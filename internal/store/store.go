package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailtasks/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter controls filtering, sorting, and pagination for task queries.
type TaskFilter struct {
	AccountID *string
	MessageID *string
	Priority  *model.Priority
	Query     *string
	SortBy    string
	SortDesc  bool
	Limit     int
	Offset    int
}

// AccountStore persists linked mailbox accounts.
type AccountStore interface {
	UpsertAccount(ctx context.Context, acct model.Account) (model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
	SetAccountActive(ctx context.Context, id string, active bool) error
}

// TaskStore persists extracted tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task model.Task) (model.Task, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
}

// LedgerStore persists the processed-message ledger.
type LedgerStore interface {
	IsProcessed(ctx context.Context, accountID, messageID string) (bool, error)
	ProcessedIDs(ctx context.Context, accountID string, messageIDs []string) (map[string]bool, error)
	MarkProcessed(ctx context.Context, entry model.LedgerEntry) error
	RecordExtraction(ctx context.Context, entry model.LedgerEntry, tasks []model.Task) ([]model.Task, error)
	ClearProcessed(ctx context.Context, accountID string) (int64, error)
	ClearFailed(ctx context.Context, accountID string) (int64, error)
	GetLedger(ctx context.Context, accountID string) ([]model.LedgerEntry, error)
	ClaimStore
}

// ClaimStore holds per-account run claims shared by every process using
// the database.
type ClaimStore interface {
	ClaimRun(ctx context.Context, accountID, owner string, now, until time.Time) (bool, error)
	ExtendRun(ctx context.Context, accountID, owner string, until time.Time) error
	ReleaseRun(ctx context.Context, accountID, owner string) error
}

// Store defines the full persistence interface.
type Store interface {
	AccountStore
	TaskStore
	LedgerStore
}
