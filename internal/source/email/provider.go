package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

// Provider implements source.Provider for IMAP mailboxes. The account
// address is the login and the stored access token is the password.
type Provider struct {
	logger *slog.Logger
}

// NewProvider creates an IMAP message provider.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

// ListMessages fetches up to maxResults recent messages. IMAP credentials
// never refresh, so cred is returned unchanged.
func (p *Provider) ListMessages(
	ctx context.Context,
	cred model.Credential,
	maxResults int,
	filter source.Filter,
) ([]model.Message, model.Credential, error) {
	settings, err := ParseSettings(cred.Settings)
	if err != nil {
		return nil, cred, fmt.Errorf("account %s: %w", cred.ID, err)
	}
	if cred.AccessToken == "" {
		return nil, cred, &source.AuthExpiredError{
			AccountID: cred.ID,
			Message:   "no IMAP password stored",
		}
	}

	client := NewIMAPClient(cred.ID, settings, cred.Address, cred.AccessToken)
	fetched, err := client.FetchRecent(ctx, maxResults)
	if err != nil {
		return nil, cred, err
	}

	messages := make([]model.Message, 0, len(fetched))
	for _, msg := range fetched {
		if filter.Excludes(msg.Labels) {
			continue
		}
		messages = append(messages, msg)
	}

	p.logger.Debug("listed IMAP messages",
		"account", cred.ID, "fetched", len(fetched), "kept", len(messages))
	return messages, cred, nil
}
