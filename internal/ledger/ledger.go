// Package ledger tracks which messages have been processed per account so
// that no message is extracted twice.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

// DefaultLease is how long a run claim lives without renewal.
const DefaultLease = 2 * time.Minute

// Ledger is the dedup gate in front of extraction.
type Ledger struct {
	store store.LedgerStore
	now   func() time.Time
	lease time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLease sets the run claim lifetime. Claims are renewed at a third of
// it while the run is alive.
func WithLease(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lease = d
		}
	}
}

// New creates a ledger over a persistent store.
func New(s store.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{store: s, now: time.Now, lease: DefaultLease}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsProcessed reports whether the message already has an entry.
func (l *Ledger) IsProcessed(ctx context.Context, accountID, messageID string) (bool, error) {
	return l.store.IsProcessed(ctx, accountID, messageID)
}

// MarkProcessed records the outcome for a message. Entries are immutable;
// marking an already-recorded message is a no-op.
func (l *Ledger) MarkProcessed(
	ctx context.Context,
	accountID, messageID string,
	taskCount int,
	status model.LedgerStatus,
) error {
	return l.store.MarkProcessed(ctx, model.LedgerEntry{
		AccountID:   accountID,
		MessageID:   messageID,
		TaskCount:   taskCount,
		Status:      status,
		ProcessedAt: l.now().UTC(),
	})
}

// Commit stores the tasks extracted from a message together with its
// ledger entry. A message already recorded by another run yields
// store.ErrAlreadyRecorded and writes nothing.
func (l *Ledger) Commit(
	ctx context.Context,
	accountID, messageID string,
	tasks []model.Task,
) ([]model.Task, error) {
	return l.store.RecordExtraction(ctx, model.LedgerEntry{
		AccountID:   accountID,
		MessageID:   messageID,
		ProcessedAt: l.now().UTC(),
	}, tasks)
}

// TryClaim takes the account's run claim. ok is false when another run,
// in this process or any other sharing the database, holds it. The claim
// is renewed in the background until release is called.
func (l *Ledger) TryClaim(ctx context.Context, accountID string) (release func(), ok bool, err error) {
	owner := uuid.NewString()
	now := l.now()
	ok, err = l.store.ClaimRun(ctx, accountID, owner, now, now.Add(l.lease))
	if err != nil || !ok {
		return nil, ok, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// A failed renewal is retried on the next tick; the claim
				// only lapses after a full lease without one.
				_ = l.store.ExtendRun(context.WithoutCancel(ctx), accountID, owner, l.now().Add(l.lease))
			}
		}
	}()

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = l.store.ReleaseRun(context.WithoutCancel(ctx), accountID, owner)
		})
	}
	return release, true, nil
}

// Unprocessed returns the messages in msgs that have no ledger entry,
// preserving their order.
func (l *Ledger) Unprocessed(
	ctx context.Context,
	accountID string,
	msgs []model.Message,
) ([]model.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	processed, err := l.store.ProcessedIDs(ctx, accountID, ids)
	if err != nil {
		return nil, err
	}

	var out []model.Message
	for _, m := range msgs {
		if !processed[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Clear removes every entry for the account so all messages become
// eligible again.
func (l *Ledger) Clear(ctx context.Context, accountID string) (int64, error) {
	return l.store.ClearProcessed(ctx, accountID)
}

// ClearFailed re-enables only the messages absorbed by batch failures.
func (l *Ledger) ClearFailed(ctx context.Context, accountID string) (int64, error) {
	return l.store.ClearFailed(ctx, accountID)
}

// Entries lists the account's ledger, newest first.
func (l *Ledger) Entries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return l.store.GetLedger(ctx, accountID)
}
