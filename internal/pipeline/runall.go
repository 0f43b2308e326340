package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailtasks/internal/progress"
)

// AccountOutcome is the result of one account within RunAll.
type AccountOutcome struct {
	AccountID string  `json:"accountId"`
	Summary   Summary `json:"summary"`
	Err       error   `json:"-"`
}

// RunAll runs every active account, at most Config.Concurrency at a time.
// Each account gets its own sink from sinkFor so its events stay ordered.
// Account failures are reported per outcome and never stop the others;
// the returned error only covers listing the accounts.
func (p *Pipeline) RunAll(
	ctx context.Context,
	sinkFor func(accountID string) progress.Sink,
) ([]AccountOutcome, Summary, error) {
	creds, skipped, err := p.creds.Active(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("listing active accounts: %w", err)
	}
	for id, reason := range skipped {
		p.logger.Warn("skipping account", "account", id, "error", reason)
	}

	var (
		mu       sync.Mutex
		outcomes []AccountOutcome
		total    Summary
		g        errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)

	for _, cred := range creds {
		g.Go(func() error {
			sink := progress.Discard
			if sinkFor != nil {
				sink = sinkFor(cred.ID)
			}
			sum, err := p.Run(ctx, cred.ID, sink)

			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, AccountOutcome{AccountID: cred.ID, Summary: sum, Err: err})
			total.Add(sum)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].AccountID < outcomes[j].AccountID
	})
	return outcomes, total, nil
}
