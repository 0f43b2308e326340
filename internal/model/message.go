package model

import "time"

// Message is a remote email message as fetched from a provider. Messages
// are never mutated after they are fetched.
type Message struct {
	// ID is the provider-assigned identifier, stable per account.
	ID string `json:"id"`

	// AccountID and AccountName tag the message with the account that
	// returned it.
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`

	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         []string  `json:"to,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Labels     []string  `json:"labels,omitempty"`

	// Body is the plain-text content used for extraction.
	Body string `json:"body"`
}

// Content returns the text handed to the language model for this message.
func (m Message) Content() string {
	if m.Subject == "" {
		return m.Body
	}
	return "Subject: " + m.Subject + "\nFrom: " + m.From + "\n\n" + m.Body
}

// LedgerStatus records the outcome of processing a message.
type LedgerStatus string

const (
	// LedgerExtracted marks a message whose extraction completed, whether
	// or not it yielded tasks.
	LedgerExtracted LedgerStatus = "extracted"

	// LedgerFailed marks a message absorbed by a batch failure.
	LedgerFailed LedgerStatus = "failed"
)

// LedgerEntry marks an (account, message) pair as already processed.
type LedgerEntry struct {
	AccountID   string       `db:"account_id"`
	MessageID   string       `db:"message_id"`
	TaskCount   int          `db:"task_count"`
	Status      LedgerStatus `db:"status"`
	ProcessedAt time.Time    `db:"processed_at"`
}
