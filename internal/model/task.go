package model

import (
	"strings"
	"time"
)

// Priority is the urgency level assigned to an extracted task.
type Priority string

// Priorities in ascending order of urgency.
const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank returns the ordinal of p (LOW=1 ... URGENT=4), or 0 if p is not a
// known priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// ParsePriority normalizes a model-supplied priority string. Unknown or
// empty values resolve to MEDIUM. A multi-value string such as
// "LOW|MEDIUM|HIGH|URGENT" resolves to its first listed value.
func ParsePriority(raw string) Priority {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '|', ',', '/', ' ', '\t', '\n':
			return true
		}
		return false
	})
	if len(fields) == 0 {
		return PriorityMedium
	}

	p := Priority(strings.ToUpper(strings.TrimSpace(fields[0])))
	if !p.Valid() {
		return PriorityMedium
	}
	return p
}

// dueDateLayouts are the layouts accepted for model-supplied due dates.
var dueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseDueDate parses a due date only when it forms a valid calendar date.
// Anything else (empty, "tomorrow", "2024-02-30") yields nil.
func ParseDueDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range dueDateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Task status values. The pipeline only ever creates open tasks.
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// Task is an actionable item extracted from a single email message.
type Task struct {
	// ID is the internal unique identifier for this task.
	ID string `json:"id" db:"id"`

	// AccountID links the task to the mailbox account it came from.
	AccountID string `json:"account_id" db:"account_id"`

	// MessageID is the provider-assigned identifier of the source message.
	MessageID string `json:"message_id" db:"message_id"`

	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Priority    Priority   `json:"priority" db:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	Status      string     `json:"status" db:"status"`

	// Sender, Recipients and ReceivedAt are copied from the source message
	// when the task is created.
	Sender     string    `json:"sender" db:"sender"`
	Recipients []string  `json:"recipients,omitempty" db:"-"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
