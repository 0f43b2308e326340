package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

// InboxMessage is one entry of the merged inbox.
type InboxMessage struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	AccountName string    `json:"accountName"`
	Subject     string    `json:"subject"`
	From        string    `json:"from"`
	ReceivedAt  time.Time `json:"receivedAt"`

	// Processed is true once the message has a ledger entry.
	Processed bool `json:"processed"`
}

// Inbox is the recent mail of every active account merged newest first.
type Inbox struct {
	Messages []InboxMessage `json:"messages"`

	// Errors maps each account that contributed nothing to the reason.
	Errors map[string]string `json:"errors"`
}

// Inbox lists up to limit recent messages across all active accounts
// without extracting anything. Accounts that cannot be listed are
// reported in Inbox.Errors.
func (p *Pipeline) Inbox(ctx context.Context, limit int) (Inbox, error) {
	if limit <= 0 {
		limit = p.cfg.Window
	}

	creds, skipped, err := p.creds.Active(ctx)
	if err != nil {
		return Inbox{}, fmt.Errorf("listing active accounts: %w", err)
	}

	inbox := Inbox{Messages: []InboxMessage{}, Errors: make(map[string]string)}
	for id, reason := range skipped {
		inbox.Errors[id] = reason.Error()
	}

	res := p.fetcher.ListMessages(ctx, creds, limit, p.inboxFilter())
	for _, e := range res.Errors {
		inbox.Errors[e.AccountID] = e.Err.Error()
	}

	byAccount := make(map[string][]model.Message)
	for _, m := range res.Messages {
		byAccount[m.AccountID] = append(byAccount[m.AccountID], m)
	}
	pending := make(map[string]bool, len(res.Messages))
	for accountID, msgs := range byAccount {
		unprocessed, err := p.ledger.Unprocessed(ctx, accountID, msgs)
		if err != nil {
			return Inbox{}, fmt.Errorf("checking ledger for %s: %w", accountID, err)
		}
		for _, m := range unprocessed {
			pending[accountID+"/"+m.ID] = true
		}
	}

	for _, m := range res.Messages {
		inbox.Messages = append(inbox.Messages, InboxMessage{
			ID:          m.ID,
			AccountID:   m.AccountID,
			AccountName: m.AccountName,
			Subject:     m.Subject,
			From:        m.From,
			ReceivedAt:  m.ReceivedAt,
			Processed:   !pending[m.AccountID+"/"+m.ID],
		})
	}
	return inbox, nil
}

// inboxFilter combines the per-provider filters for one merged listing.
// Only Gmail reads Query, so its query is kept; excluded labels are the
// union of all providers'.
func (p *Pipeline) inboxFilter() source.Filter {
	filter := source.Filter{Query: p.cfg.Filters[model.ProviderGmail].Query}
	seen := make(map[string]bool)
	for _, f := range p.cfg.Filters {
		for _, l := range f.ExcludeLabels {
			if !seen[l] {
				seen[l] = true
				filter.ExcludeLabels = append(filter.ExcludeLabels, l)
			}
		}
	}
	return filter
}
