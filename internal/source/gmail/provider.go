package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

// maxPageSize is the largest page users.messages.list accepts.
const maxPageSize = 500

// Provider lists Gmail messages through a resilient Client.
type Provider struct {
	client *Client
	logger *slog.Logger
}

// NewProvider creates a Gmail message provider.
func NewProvider(client *Client, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{client: client, logger: logger}
}

// ListMessages returns up to maxResults messages matching filter, newest
// first as reported by Gmail. Auth and rate-limit failures abort the
// listing; a message that disappears between list and get is skipped.
func (p *Provider) ListMessages(
	ctx context.Context,
	cred model.Credential,
	maxResults int,
	filter source.Filter,
) ([]model.Message, model.Credential, error) {
	if maxResults <= 0 {
		return nil, cred, nil
	}

	ids, cred, err := p.listIDs(ctx, cred, maxResults, filter.Query)
	if err != nil {
		return nil, cred, err
	}

	messages := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		var raw *gmailv1.Message
		cred, err = p.client.Do(ctx, cred, func(ctx context.Context, svc *gmailv1.Service) error {
			m, err := svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
			if err != nil {
				return err
			}
			raw = m
			return nil
		})
		if err != nil {
			if fatalListError(ctx, err) {
				return nil, cred, fmt.Errorf("getting message %s: %w", id, err)
			}
			p.logger.Warn("skipping gmail message", "account", cred.ID, "message", id, "error", err)
			continue
		}

		msg, err := messageFromRaw(raw)
		if err != nil {
			p.logger.Warn("skipping undecodable gmail message",
				"account", cred.ID, "message", id, "error", err)
			continue
		}
		if filter.Excludes(msg.Labels) {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, cred, nil
}

// listIDs pages through users.messages.list until maxResults IDs are
// collected or the listing is exhausted.
func (p *Provider) listIDs(
	ctx context.Context,
	cred model.Credential,
	maxResults int,
	query string,
) ([]string, model.Credential, error) {
	var (
		ids       []string
		pageToken string
		err       error
	)

	for len(ids) < maxResults {
		var resp *gmailv1.ListMessagesResponse
		pageSize := min(maxResults-len(ids), maxPageSize)

		cred, err = p.client.Do(ctx, cred, func(ctx context.Context, svc *gmailv1.Service) error {
			call := svc.Users.Messages.List("me").MaxResults(int64(pageSize)).Context(ctx)
			if query != "" {
				call = call.Q(query)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			r, err := call.Do()
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, cred, fmt.Errorf("listing messages: %w", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, cred, nil
}

// messageFromRaw decodes a format=raw message into the domain model.
func messageFromRaw(m *gmailv1.Message) (model.Message, error) {
	data, err := decodeRaw(m.Raw)
	if err != nil {
		return model.Message{}, err
	}

	parsed := source.ParseMIME(data)

	received := parsed.Date
	if m.InternalDate > 0 {
		received = time.UnixMilli(m.InternalDate)
	}

	return model.Message{
		ID:         m.Id,
		Subject:    parsed.Subject,
		From:       parsed.From,
		To:         parsed.To,
		ReceivedAt: received.UTC(),
		Labels:     m.LabelIds,
		Body:       parsed.Text(),
	}, nil
}

// decodeRaw accepts both padded and unpadded base64url.
func decodeRaw(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty raw message")
	}
	if data, err := base64.URLEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("decoding raw message: %w", err)
	}
	return data, nil
}

// fatalListError reports errors that make the rest of the listing
// pointless for this account.
func fatalListError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return source.IsAuthExpired(err) || source.IsRateLimited(err)
}
