// Package fanout lists messages across several linked accounts
// concurrently and merges them into one recency-ordered view.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

// AccountError records why one account contributed no messages.
type AccountError struct {
	AccountID string
	Err       error
}

func (e AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.AccountID, e.Err)
}

func (e AccountError) Unwrap() error { return e.Err }

// Result is the merged listing.
type Result struct {
	// Messages are sorted newest first, ties broken by message ID
	// ascending, and capped at the requested maximum.
	Messages []model.Message

	// Errors holds one entry per failed account.
	Errors []AccountError

	// Credentials holds the credential each account ended with, which
	// differs from the input when a token was refreshed.
	Credentials map[string]model.Credential
}

// Fanout dispatches listings to the provider of each account.
type Fanout struct {
	providers map[model.Provider]source.Provider
	logger    *slog.Logger
}

// New creates a Fanout over the given providers.
func New(providers map[model.Provider]source.Provider, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{providers: providers, logger: logger}
}

// ListMessages lists up to maxResults messages from every account in
// parallel. A failing account is reported in Result.Errors and never
// aborts the others.
func (f *Fanout) ListMessages(
	ctx context.Context,
	accounts []model.Credential,
	maxResults int,
	filter source.Filter,
) Result {
	res := Result{Credentials: make(map[string]model.Credential, len(accounts))}
	if len(accounts) == 0 || maxResults <= 0 {
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group

	for _, cred := range accounts {
		g.Go(func() error {
			msgs, next, err := f.listAccount(ctx, cred, maxResults, filter)

			mu.Lock()
			defer mu.Unlock()

			res.Credentials[cred.ID] = next
			if err != nil {
				f.logger.Warn("account listing failed", "account", cred.ID, "error", err)
				res.Errors = append(res.Errors, AccountError{AccountID: cred.ID, Err: err})
				return nil
			}
			res.Messages = append(res.Messages, msgs...)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Errors, func(i, j int) bool {
		return res.Errors[i].AccountID < res.Errors[j].AccountID
	})
	SortByRecency(res.Messages)
	if len(res.Messages) > maxResults {
		res.Messages = res.Messages[:maxResults]
	}
	return res
}

func (f *Fanout) listAccount(
	ctx context.Context,
	cred model.Credential,
	maxResults int,
	filter source.Filter,
) ([]model.Message, model.Credential, error) {
	provider, ok := f.providers[cred.Provider]
	if !ok {
		return nil, cred, fmt.Errorf("no provider registered for %q", cred.Provider)
	}

	msgs, next, err := provider.ListMessages(ctx, cred, maxResults, filter)
	if err != nil {
		return nil, next, err
	}

	name := cred.Name()
	for i := range msgs {
		msgs[i].AccountID = cred.ID
		msgs[i].AccountName = name
	}
	return msgs, next, nil
}

// SortByRecency orders messages newest first with ties broken by message
// ID ascending, so the order is deterministic across runs.
func SortByRecency(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].ReceivedAt, msgs[j].ReceivedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
