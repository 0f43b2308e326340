package email

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	accountID string
	settings  Settings
	username  string
	password  string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(accountID string, settings Settings, username, password string) *IMAPClient {
	return &IMAPClient{
		accountID: accountID,
		settings:  settings,
		username:  username,
		password:  password,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The connection is torn down if ctx
// is cancelled. The caller is responsible for calling Logout on the
// returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := c.settings.Addr()

	var client *imapclient.Client
	var err error

	if c.settings.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthExpiredError{
			AccountID: c.accountID,
			Message:   fmt.Sprintf("IMAP login failed for %s: %v", c.username, err),
		}
	}

	return client, nil
}

// FetchRecent selects the mailbox, searches for messages not flagged
// \Deleted, and returns the newest limit of them with parsed bodies.
func (c *IMAPClient) FetchRecent(ctx context.Context, limit int) ([]model.Message, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.settings.Mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.settings.Mailbox, err)
	}

	searchData, err := client.UIDSearch(c.searchCriteria(time.Now()), nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := newestUIDs(searchData.AllUIDs(), limit)
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var messages []model.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		messages = append(messages, messageFromBuffer(buf, buf.FindBodySection(bodySection)))
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}

func (c *IMAPClient) searchCriteria(now time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}
	if c.settings.LookbackDays > 0 {
		criteria.Since = now.AddDate(0, 0, -c.settings.LookbackDays)
	}
	return criteria
}

// newestUIDs keeps the highest limit UIDs. UIDs grow with arrival order.
func newestUIDs(uids []imap.UID, limit int) []imap.UID {
	if limit > 0 && len(uids) > limit {
		return uids[len(uids)-limit:]
	}
	return uids
}

// messageFromBuffer maps fetched envelope data and the raw RFC 2822 body
// onto the domain message.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer, raw []byte) model.Message {
	msg := model.Message{
		ID:         strconv.FormatUint(uint64(buf.UID), 10),
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		msg.Subject = buf.Envelope.Subject
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = buf.Envelope.Date
		}

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				msg.From = from.Name + " <" + from.Addr() + ">"
			} else {
				msg.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			msg.To = append(msg.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		msg.Labels = append(msg.Labels, string(flag))
	}

	if raw != nil {
		parsed := source.ParseMIME(raw)
		msg.Body = parsed.Text()
		if msg.Subject == "" {
			msg.Subject = parsed.Subject
		}
		if msg.From == "" {
			msg.From = parsed.From
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = parsed.Date
		}
	}

	msg.ReceivedAt = msg.ReceivedAt.UTC()
	return msg
}
