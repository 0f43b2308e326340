package email

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/source"
)

func TestParseSettingsDefaults(t *testing.T) {
	s, err := ParseSettings(map[string]string{SettingHost: "imap.example.com"})
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.Addr() != "imap.example.com:993" || !s.TLS || s.Mailbox != "INBOX" {
		t.Fatalf("unexpected defaults: %+v", s)
	}

	if _, err := ParseSettings(map[string]string{}); err == nil {
		t.Fatal("expected error for missing host")
	}
	if _, err := ParseSettings(map[string]string{SettingHost: "h", SettingTLS: "maybe"}); err == nil {
		t.Fatal("expected error for invalid tls flag")
	}

	s, err = ParseSettings(map[string]string{
		SettingHost: "h", SettingPort: "143", SettingTLS: "false", SettingLookbackDays: "14",
	})
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.TLS || s.Port != "143" || s.LookbackDays != 14 {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestSearchCriteriaExcludesDeleted(t *testing.T) {
	c := NewIMAPClient("a1", Settings{Host: "h", Port: "993", LookbackDays: 7}, "u", "p")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	criteria := c.searchCriteria(now)
	if len(criteria.NotFlag) != 1 || criteria.NotFlag[0] != imap.FlagDeleted {
		t.Fatalf("expected \\Deleted to be excluded, got %v", criteria.NotFlag)
	}
	if !criteria.Since.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected since: %v", criteria.Since)
	}
}

func TestNewestUIDs(t *testing.T) {
	got := newestUIDs([]imap.UID{1, 2, 3, 4, 5}, 2)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("expected newest two UIDs, got %v", got)
	}
	if got := newestUIDs([]imap.UID{1, 2}, 10); len(got) != 2 {
		t.Fatalf("expected all UIDs, got %v", got)
	}
}

func TestMessageFromBuffer(t *testing.T) {
	received := time.Date(2024, 3, 10, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	buf := &imapclient.FetchMessageBuffer{
		UID:          42,
		InternalDate: received,
		Flags:        []imap.Flag{imap.FlagSeen},
		Envelope: &imap.Envelope{
			Subject: "Invoice due",
			From:    []imap.Address{{Name: "Billing", Mailbox: "billing", Host: "example.com"}},
			To:      []imap.Address{{Mailbox: "me", Host: "example.com"}},
		},
	}
	raw := []byte("Subject: Invoice due\r\nContent-Type: text/plain\r\n\r\nPay by Friday.\r\n")

	msg := messageFromBuffer(buf, raw)
	if msg.ID != "42" || msg.Subject != "Invoice due" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.From != "Billing <billing@example.com>" {
		t.Fatalf("unexpected from: %q", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "me@example.com" {
		t.Fatalf("unexpected recipients: %v", msg.To)
	}
	if !msg.ReceivedAt.Equal(received) || msg.ReceivedAt.Location() != time.UTC {
		t.Fatalf("unexpected received time: %v", msg.ReceivedAt)
	}
	if msg.Body != "Pay by Friday." {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
	if len(msg.Labels) != 1 || msg.Labels[0] != `\Seen` {
		t.Fatalf("unexpected labels: %v", msg.Labels)
	}
}

func TestProviderRejectsMissingSettings(t *testing.T) {
	p := NewProvider(nil)
	cred := model.Credential{
		Account: model.Account{ID: "a1", Provider: model.ProviderIMAP, Address: "me@example.com"},
		Tokens:  model.Tokens{AccessToken: "pw"},
	}
	if _, _, err := p.ListMessages(context.Background(), cred, 10, source.Filter{}); err == nil {
		t.Fatal("expected error for account without imap_host")
	}

	cred.Settings = map[string]string{SettingHost: "imap.example.com"}
	cred.AccessToken = ""
	_, _, err := p.ListMessages(context.Background(), cred, 10, source.Filter{})
	if !source.IsAuthExpired(err) {
		t.Fatalf("expected AuthExpired without password, got %v", err)
	}
}
